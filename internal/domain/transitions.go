package domain

// transitions is the complete table of legal status changes. Any pair not
// listed here is rejected.
var transitions = map[DuelStatus][]DuelStatus{
	StatusProposed:   {StatusAccepted, StatusDeclined, StatusCancelled, StatusExpired},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled, StatusDisputed},
	StatusCompleted:  {StatusDisputed},
	StatusDeclined:   {StatusDisputed},
	StatusCancelled:  {StatusDisputed},
	StatusExpired:    {StatusDisputed},
}

// CanTransition reports whether a duel may move from one status to another.
func CanTransition(from, to DuelStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ActiveStatuses lists the statuses a device monitors with local timers.
var ActiveStatuses = []DuelStatus{StatusInProgress}

// OpenStatuses lists the statuses that still expect player action.
var OpenStatuses = []DuelStatus{StatusProposed, StatusAccepted, StatusInProgress}

package domain

// ChangeKind distinguishes a newly inserted duel row from an update.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
)

// DuelChange is one entry of the Duel Store's change feed. Old is nil for
// inserts.
type DuelChange struct {
	Kind ChangeKind
	Old  *Duel
	New  *Duel
}

// Participants returns the users the change must be fanned out to.
func (c DuelChange) Participants() []string {
	if c.New == nil {
		return nil
	}
	return []string{c.New.ChallengerID, c.New.OpponentID}
}

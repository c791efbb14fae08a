// Package services – Engine
//
// This file implements the Duel Lifecycle Engine. It owns every duel status
// change: it checks who may act, enforces the transition table, and writes
// the row with a compare-and-swap on Duel.Version. A write that loses the
// race re-reads the row and re-applies the operation; it never overwrites.
//
// Every committed write is published to the change feed, and the other
// participant is told through the Notification Queue. Notification failures
// are logged; the committed transition stands and devices re-derive missing
// notifications on their next reconciliation pass.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// carry the duel and user identifiers.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/config"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/oracle"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/repo"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/storage"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxChallengeMessageRunes caps the optional message sent with a challenge.
const MaxChallengeMessageRunes = 280

// Publisher receives every committed duel change.
type Publisher interface {
	Publish(c domain.DuelChange)
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.DuelChange) {}

// Engine coordinates duel state changes.
type Engine struct {
	DB          *gorm.DB
	Clock       clockwork.Clock
	Oracle      oracle.Verifier
	Screenshots storage.Store
	Stats       StatsAggregator
	Notify      *NotificationQueue
	Feed        Publisher

	VerificationWindow time.Duration
	ChallengeTTL       time.Duration
	MinConfidence      float64
	OracleMaxTries     uint
	WriteMaxTries      uint

	// RetryBackOff builds the wait policy between oracle and write retries.
	RetryBackOff func() backoff.BackOff
}

// NewEngine returns an engine with the given timing configuration and
// in-process defaults for every collaborator. Callers replace the
// collaborators they have real implementations for.
func NewEngine(db *gorm.DB, cfg config.DuelConfig) *Engine {
	clock := clockwork.NewRealClock()
	return &Engine{
		DB:                 db,
		Clock:              clock,
		Oracle:             oracle.Unconfigured{},
		Screenshots:        storage.NewMemory(),
		Stats:              &LedgerStats{DB: db},
		Notify:             &NotificationQueue{DB: db, Clock: clock},
		Feed:               nopPublisher{},
		VerificationWindow: cfg.VerificationWindow,
		ChallengeTTL:       cfg.ChallengeTTL,
		MinConfidence:      cfg.MinConfidence,
		OracleMaxTries:     cfg.OracleMaxTries,
		WriteMaxTries:      cfg.WriteMaxTries,
		RetryBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

func (e *Engine) now() time.Time { return e.Clock.Now().UTC() }

func (e *Engine) tracer() trace.Tracer { return otel.Tracer("services/Engine") }

// ---------- reads ----------

// Get fetches a duel from the store.
func (e *Engine) Get(ctx context.Context, id string) (*domain.Duel, error) {
	d, err := repo.GetDuel(ctx, e.DB, id)
	if repo.IsNotFound(err) {
		return nil, ErrDuelNotFound
	}
	return d, err
}

// ListForUser returns a page of the user's duels, newest first, optionally
// restricted to some statuses, and the matching total.
func (e *Engine) ListForUser(ctx context.Context, userID string, statuses []domain.DuelStatus, page, pageSize int) ([]domain.Duel, int64, error) {
	ctx, span := e.tracer().Start(ctx, "ListForUser",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	f := repo.DuelFilter{UserID: userID, Statuses: statuses}
	total, err := repo.CountDuels(ctx, e.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Duel{}, 0, nil
	}
	items, err := repo.ListDuelsPage(ctx, e.DB, f, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// ListActive returns the user's duels that are currently being played or
// verified. Devices rebuild their monitoring state from this list.
func (e *Engine) ListActive(ctx context.Context, userID string) ([]domain.Duel, error) {
	return repo.ListActiveDuels(ctx, e.DB, userID)
}

// Submissions returns the duel's screenshot submissions keyed by user id.
func (e *Engine) Submissions(ctx context.Context, duelID string) (map[string]*domain.Submission, error) {
	if _, err := e.Get(ctx, duelID); err != nil {
		return nil, err
	}
	return repo.ListSubmissions(ctx, e.DB, duelID)
}

// Deadline returns the verification deadline of an ended match.
func (e *Engine) Deadline(d *domain.Duel) (time.Time, bool) {
	return d.VerificationDeadline(e.VerificationWindow)
}

// ---------- lifecycle operations ----------

// ProposeInput is a new challenge.
type ProposeInput struct {
	ChallengerID string
	OpponentID   string
	GameType     string
	GameMode     string
	Message      string
}

// Propose creates a duel in status proposed that expires after ChallengeTTL.
func (e *Engine) Propose(ctx context.Context, in ProposeInput) (*domain.Duel, error) {
	ctx, span := e.tracer().Start(ctx, "Propose",
		trace.WithAttributes(
			attribute.String("user.id", in.ChallengerID),
			attribute.String("opponent.id", in.OpponentID),
		),
	)
	defer span.End()

	in.ChallengerID = strings.TrimSpace(in.ChallengerID)
	in.OpponentID = strings.TrimSpace(in.OpponentID)
	in.GameType = strings.TrimSpace(in.GameType)
	in.GameMode = strings.TrimSpace(in.GameMode)
	in.Message = norm.NFC.String(strings.TrimSpace(in.Message))

	switch {
	case in.ChallengerID == "":
		return nil, invalidf("challenger_id", "is required")
	case in.OpponentID == "":
		return nil, invalidf("opponent_id", "is required")
	case in.ChallengerID == in.OpponentID:
		return nil, invalidf("opponent_id", "must differ from challenger_id")
	case in.GameType == "":
		return nil, invalidf("game_type", "is required")
	case in.GameMode == "":
		return nil, invalidf("game_mode", "is required")
	case utf8.RuneCountInString(in.Message) > MaxChallengeMessageRunes:
		return nil, invalidf("message", "must be at most %d characters", MaxChallengeMessageRunes)
	}

	now := e.now()
	d := &domain.Duel{
		ID:                 uuid.NewString(),
		ChallengerID:       in.ChallengerID,
		OpponentID:         in.OpponentID,
		GameType:           in.GameType,
		GameMode:           in.GameMode,
		Status:             domain.StatusProposed,
		CreatedAt:          now,
		ExpiresAt:          now.Add(e.ChallengeTTL),
		VerificationStatus: domain.VerificationPending,
		DisputeStatus:      domain.DisputeNone,
	}
	if in.Message != "" {
		d.ChallengeMessage = &in.Message
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := repo.CreateDuel(ctx, e.DB, d); err != nil {
		return nil, err
	}
	e.Feed.Publish(domain.DuelChange{Kind: domain.ChangeInsert, New: d.Clone()})
	e.notify(ctx, DuelNotification(d.OpponentID, domain.NotifyDuelChallenge, d))
	return d, nil
}

// Respond accepts or declines a proposal. Only the opponent may respond,
// and only before the proposal expires.
func (e *Engine) Respond(ctx context.Context, duelID, byUserID string, accept bool) (*domain.Duel, error) {
	ctx, span := e.tracer().Start(ctx, "Respond",
		trace.WithAttributes(
			attribute.String("duel.id", duelID),
			attribute.String("user.id", byUserID),
			attribute.Bool("accept", accept),
		),
	)
	defer span.End()

	to := domain.StatusDeclined
	if accept {
		to = domain.StatusAccepted
	}
	d, changed, err := e.mutate(ctx, duelID, func(d *domain.Duel, now time.Time) error {
		if d.OpponentID != byUserID {
			return ErrNotParticipant
		}
		if d.Status != domain.StatusProposed {
			return &TransitionError{DuelID: d.ID, From: d.Status, To: to}
		}
		if !now.Before(d.ExpiresAt) {
			return ErrChallengeExpired
		}
		d.Status = to
		d.AcceptedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		typ := domain.NotifyDuelDeclined
		if accept {
			typ = domain.NotifyDuelAccepted
		}
		e.notify(ctx, DuelNotification(d.ChallengerID, typ, d))
	}
	return d, nil
}

// StartMatch moves an accepted duel to in_progress. Either participant may
// start it; a second start of a running match returns the duel unchanged.
func (e *Engine) StartMatch(ctx context.Context, duelID, byUserID string) (*domain.Duel, error) {
	ctx, span := e.tracer().Start(ctx, "StartMatch",
		trace.WithAttributes(attribute.String("duel.id", duelID), attribute.String("user.id", byUserID)),
	)
	defer span.End()

	d, changed, err := e.mutate(ctx, duelID, func(d *domain.Duel, now time.Time) error {
		if !d.IsParticipant(byUserID) {
			return ErrNotParticipant
		}
		if d.Status == domain.StatusInProgress && d.StartedAt != nil {
			return errUnchanged
		}
		if d.Status != domain.StatusAccepted {
			return &TransitionError{DuelID: d.ID, From: d.Status, To: domain.StatusInProgress}
		}
		d.Status = domain.StatusInProgress
		d.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		req := DuelNotification(d.OtherParticipant(byUserID), domain.NotifyMatchStarted, d)
		req.Once = true
		e.notify(ctx, req)
	}
	return d, nil
}

// EndMatch records the end of play and opens the verification window. When
// both players end the match the first write wins and the second call
// returns the duel unchanged.
func (e *Engine) EndMatch(ctx context.Context, duelID, byUserID string) (*domain.Duel, error) {
	ctx, span := e.tracer().Start(ctx, "EndMatch",
		trace.WithAttributes(attribute.String("duel.id", duelID), attribute.String("user.id", byUserID)),
	)
	defer span.End()

	d, changed, err := e.mutate(ctx, duelID, func(d *domain.Duel, now time.Time) error {
		if !d.IsParticipant(byUserID) {
			return ErrNotParticipant
		}
		if d.Status == domain.StatusInProgress && d.EndedAt != nil {
			return errUnchanged
		}
		if d.Status != domain.StatusInProgress {
			return &TransitionError{DuelID: d.ID, From: d.Status, Op: "end match"}
		}
		d.EndedAt = &now
		d.VerificationStatus = domain.VerificationPending
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		req := DuelNotification(d.OtherParticipant(byUserID), domain.NotifyMatchEnded, d)
		req.Once = true
		e.notify(ctx, req)
	}
	return d, nil
}

// Cancel aborts a duel that has not finished. A pending proposal can only be
// withdrawn by its challenger; the opponent declines instead.
func (e *Engine) Cancel(ctx context.Context, duelID, byUserID string) (*domain.Duel, error) {
	ctx, span := e.tracer().Start(ctx, "Cancel",
		trace.WithAttributes(attribute.String("duel.id", duelID), attribute.String("user.id", byUserID)),
	)
	defer span.End()

	d, _, err := e.mutate(ctx, duelID, func(d *domain.Duel, now time.Time) error {
		if !d.IsParticipant(byUserID) {
			return ErrNotParticipant
		}
		if d.Status == domain.StatusProposed && byUserID != d.ChallengerID {
			return ErrNotParticipant
		}
		if d.Status == domain.StatusCancelled {
			return errUnchanged
		}
		d.Status = domain.StatusCancelled
		return nil
	})
	return d, err
}

// RaiseDispute contests a duel's result. It is allowed while the match is
// in progress and after it reached a terminal status.
func (e *Engine) RaiseDispute(ctx context.Context, duelID, byUserID, reason string) (*domain.Duel, error) {
	ctx, span := e.tracer().Start(ctx, "RaiseDispute",
		trace.WithAttributes(attribute.String("duel.id", duelID), attribute.String("user.id", byUserID)),
	)
	defer span.End()

	reason = norm.NFC.String(strings.TrimSpace(reason))
	if reason == "" {
		return nil, invalidf("reason", "is required")
	}
	d, changed, err := e.mutate(ctx, duelID, func(d *domain.Duel, now time.Time) error {
		if !d.IsParticipant(byUserID) {
			return ErrNotParticipant
		}
		if d.Status == domain.StatusDisputed {
			return errUnchanged
		}
		d.Status = domain.StatusDisputed
		d.DisputeStatus = domain.DisputePending
		d.DisputeReason = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		req := DuelNotification(d.OtherParticipant(byUserID), domain.NotifyDispute, d)
		req.Data.Message = reason
		e.notify(ctx, req)
	}
	return d, nil
}

// ---------- verification ----------

// SubmitInput is one player's screenshot of the final score.
type SubmitInput struct {
	DuelID      string
	UserID      string
	Image       []byte
	ContentType string
}

// SubmitScreenshot stores the screenshot, has the oracle read it and records
// the result, replacing any earlier submission by the same player.
//
// A reading below MinConfidence is stored unverified and ErrLowConfidence is
// returned together with the stored submission. An oracle that stays
// unavailable after retries yields ErrOracleUnavailable, again with the
// screenshot stored. Neither changes the duel. Once both players have a
// verified submission the duel is resolved.
func (e *Engine) SubmitScreenshot(ctx context.Context, in SubmitInput) (*domain.Submission, error) {
	ctx, span := e.tracer().Start(ctx, "SubmitScreenshot",
		trace.WithAttributes(attribute.String("duel.id", in.DuelID), attribute.String("user.id", in.UserID)),
	)
	defer span.End()

	received := e.now()
	if len(in.Image) == 0 {
		return nil, invalidf("image", "is required")
	}
	d, err := e.Get(ctx, in.DuelID)
	if err != nil {
		return nil, err
	}
	if !d.IsParticipant(in.UserID) {
		return nil, ErrNotParticipant
	}
	if !d.AwaitingVerification() {
		return nil, fmt.Errorf("%w: duel is %s, verification %s", ErrVerificationClosed, d.Status, d.VerificationStatus)
	}
	deadline, _ := d.VerificationDeadline(e.VerificationWindow)
	if received.After(deadline) {
		return nil, ErrVerificationClosed
	}

	key := storage.ScreenshotKey(d.GameType, d.GameMode, d.ID, in.UserID, in.ContentType, received)
	if err := e.Screenshots.Put(ctx, key, in.ContentType, in.Image); err != nil {
		return nil, err
	}
	sub := &domain.Submission{
		ID:            uuid.NewString(),
		DuelID:        d.ID,
		UserID:        in.UserID,
		ScreenshotRef: key,
		SubmittedAt:   received,
	}

	res, verr := e.verify(ctx, oracle.Request{
		Image:       in.Image,
		ContentType: in.ContentType,
		GameType:    d.GameType,
		GameMode:    d.GameMode,
		Region:      oracle.Region(d.GameType, d.GameMode),
	})
	switch {
	case errors.Is(verr, oracle.ErrRejected):
		return nil, invalidf("image", "was rejected by the verification service")
	case verr != nil:
		stored, err := repo.UpsertSubmission(ctx, e.DB, sub)
		if err != nil {
			return nil, err
		}
		return stored, fmt.Errorf("%w: %v", ErrOracleUnavailable, verr)
	}

	score, conf := res.Score, res.Confidence
	sub.Score, sub.Confidence, sub.RawResult = &score, &conf, res.Raw
	lowConfidence := conf < e.MinConfidence
	if !lowConfidence {
		sub.VerifiedAt = &received
	}
	stored, err := repo.UpsertSubmission(ctx, e.DB, sub)
	if err != nil {
		return nil, err
	}
	if lowConfidence {
		return stored, ErrLowConfidence
	}

	subs, err := repo.ListSubmissions(ctx, e.DB, d.ID)
	if err != nil {
		return stored, nil
	}
	if subs[d.ChallengerID].CountsBy(deadline) && subs[d.OpponentID].CountsBy(deadline) {
		if _, err := e.Resolve(ctx, d.ID); err != nil && !errors.Is(err, ErrNotReady) {
			log.Warn().Err(err).Str("component", "engine").Str("duel_id", d.ID).Msg("resolve after submission")
		}
	}
	return stored, nil
}

// verify calls the oracle, retrying while it is unavailable.
func (e *Engine) verify(ctx context.Context, req oracle.Request) (*oracle.Result, error) {
	res, err := backoff.Retry(ctx, func() (*oracle.Result, error) {
		r, err := e.Oracle.Verify(ctx, req)
		switch {
		case err == nil:
			oracleCalls.WithLabelValues("ok").Inc()
			return r, nil
		case errors.Is(err, oracle.ErrUnavailable):
			oracleCalls.WithLabelValues("unavailable").Inc()
			return nil, err
		default:
			oracleCalls.WithLabelValues("rejected").Inc()
			return nil, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(e.RetryBackOff()),
		backoff.WithMaxTries(e.OracleMaxTries),
		backoff.WithMaxElapsedTime(0),
	)
	return res, unwrapPermanent(err)
}

// Outcome is the result of Resolve. Stats is set when a winner was decided.
type Outcome struct {
	Duel  *domain.Duel         `json:"duel"`
	Stats *domain.StatsOutcome `json:"stats,omitempty"`
}

type decision struct {
	result   string // verified, forfeited, tie, no_show
	winnerID string
	loserID  string
	scores   map[string]int
}

// decide applies the resolution rules to a duel awaiting verification.
func decide(d *domain.Duel, subs map[string]*domain.Submission, deadline time.Time) decision {
	a, b := d.ChallengerID, d.OpponentID
	aOK, bOK := subs[a].CountsBy(deadline), subs[b].CountsBy(deadline)
	switch {
	case aOK && bOK:
		sa, sb := *subs[a].Score, *subs[b].Score
		scores := map[string]int{a: sa, b: sb}
		switch {
		case sa > sb:
			return decision{result: "verified", winnerID: a, loserID: b, scores: scores}
		case sb > sa:
			return decision{result: "verified", winnerID: b, loserID: a, scores: scores}
		}
		return decision{result: "tie", scores: scores}
	case aOK:
		return decision{result: "forfeited", winnerID: a, loserID: b, scores: map[string]int{a: *subs[a].Score, b: 0}}
	case bOK:
		return decision{result: "forfeited", winnerID: b, loserID: a, scores: map[string]int{a: 0, b: *subs[b].Score}}
	}
	return decision{result: "no_show"}
}

// Resolve decides the outcome of an ended match. It always re-reads the
// duel and its submissions from the store.
//
// While the verification window is open it resolves only when both players
// have verified submissions, otherwise it returns ErrNotReady. Statistics
// are applied only after the completed duel row is committed, from that
// row. Resolving an already completed duel returns the stored outcome, and
// applies it first if an earlier call failed before doing so.
func (e *Engine) Resolve(ctx context.Context, duelID string) (*Outcome, error) {
	ctx, span := e.tracer().Start(ctx, "Resolve", trace.WithAttributes(attribute.String("duel.id", duelID)))
	defer span.End()

	d, err := e.Get(ctx, duelID)
	if err != nil {
		return nil, err
	}
	if !d.AwaitingVerification() {
		return e.settled(ctx, d)
	}

	now := e.now()
	deadline, _ := d.VerificationDeadline(e.VerificationWindow)
	subs, err := repo.ListSubmissions(ctx, e.DB, d.ID)
	if err != nil {
		return nil, err
	}
	both := subs[d.ChallengerID].CountsBy(deadline) && subs[d.OpponentID].CountsBy(deadline)
	if !both && now.Before(deadline) {
		return nil, ErrNotReady
	}
	dec := decide(d, subs, deadline)

	d, changed, err := e.mutate(ctx, duelID, func(d *domain.Duel, now time.Time) error {
		if !d.AwaitingVerification() {
			return errUnchanged
		}
		applyDecision(d, dec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return e.settled(ctx, d)
	}

	var stats *domain.StatsOutcome
	var statsErr error
	if d.Status == domain.StatusCompleted {
		if stats, statsErr = e.applyStats(ctx, d); statsErr != nil {
			span.RecordError(statsErr)
			log.Error().Err(statsErr).Str("component", "engine").Str("duel_id", d.ID).
				Msg("apply outcome failed, next Resolve retries")
		}
	}

	duelResolutions.WithLabelValues(dec.result).Inc()
	log.Info().
		Str("component", "engine").
		Str("duel_id", d.ID).
		Str("result", dec.result).
		Str("winner_id", dec.winnerID).
		Msg("duel resolved")
	e.notifyOutcome(ctx, d, dec, stats)
	if statsErr != nil {
		return nil, fmt.Errorf("apply outcome: %w", statsErr)
	}
	return &Outcome{Duel: d, Stats: stats}, nil
}

// applyStats feeds a completed duel's committed winner and scores to the
// aggregator.
func (e *Engine) applyStats(ctx context.Context, d *domain.Duel) (*domain.StatsOutcome, error) {
	if d.WinnerID == nil || d.LoserID == nil {
		return nil, nil
	}
	in := domain.OutcomeInput{
		DuelID:   d.ID,
		WinnerID: *d.WinnerID,
		LoserID:  *d.LoserID,
		GameType: d.GameType,
	}
	if s := d.ScoreOf(in.WinnerID); s != nil {
		in.WinnerScore = *s
	}
	if s := d.ScoreOf(in.LoserID); s != nil {
		in.LoserScore = *s
	}
	return e.Stats.ApplyOutcome(ctx, in)
}

func applyDecision(d *domain.Duel, dec decision) {
	if dec.scores != nil {
		cs, os := dec.scores[d.ChallengerID], dec.scores[d.OpponentID]
		d.ChallengerScore, d.OpponentScore = &cs, &os
	}
	ocr := domain.MethodOCR
	switch dec.result {
	case "verified", "forfeited":
		w, l := dec.winnerID, dec.loserID
		d.WinnerID, d.LoserID = &w, &l
		d.Status = domain.StatusCompleted
		d.VerificationMethod = &ocr
		d.VerificationStatus = domain.VerificationVerified
		if dec.result == "forfeited" {
			d.VerificationStatus = domain.VerificationForfeited
		}
	case "tie":
		d.VerificationMethod = &ocr
		d.VerificationStatus = domain.VerificationDisputed
		d.DisputeStatus = domain.DisputePending
	case "no_show":
		d.Status = domain.StatusCancelled
		d.VerificationStatus = domain.VerificationFailed
	}
}

// settled returns the outcome of a duel that no longer awaits verification.
func (e *Engine) settled(ctx context.Context, d *domain.Duel) (*Outcome, error) {
	switch {
	case d.Status == domain.StatusCompleted:
		stats, err := e.Stats.Outcome(ctx, d.ID)
		if err == nil && stats == nil {
			stats, err = e.applyStats(ctx, d)
		}
		if err != nil {
			return nil, err
		}
		return &Outcome{Duel: d, Stats: stats}, nil
	case d.Status == domain.StatusInProgress && d.VerificationStatus == domain.VerificationDisputed,
		d.Status == domain.StatusCancelled && d.VerificationStatus == domain.VerificationFailed,
		d.Status == domain.StatusDisputed:
		return &Outcome{Duel: d}, nil
	}
	return nil, &TransitionError{DuelID: d.ID, From: d.Status, To: domain.StatusCompleted}
}

func (e *Engine) notifyOutcome(ctx context.Context, d *domain.Duel, dec decision, stats *domain.StatsOutcome) {
	var typ domain.NotificationType
	switch dec.result {
	case "verified":
		typ = domain.NotifyVerificationSuccess
	case "forfeited":
		typ = domain.NotifyDuelForfeited
	case "tie":
		typ = domain.NotifyDispute
	default:
		typ = domain.NotifyVerificationFailed
	}
	for _, uid := range []string{d.ChallengerID, d.OpponentID} {
		req := DuelNotification(uid, typ, d)
		if dec.result == "tie" {
			req.Data.Message = "tie"
		}
		e.notify(ctx, req)
	}
	if stats == nil {
		return
	}
	for _, c := range []domain.StatsChange{stats.Winner, stats.Loser} {
		if c.LeveledUp() {
			req := DuelNotification(c.UserID, domain.NotifyLevelUp, d)
			req.Data.Level = c.After.Level
			e.notify(ctx, req)
		}
	}
	if a := achievementFor(stats.Winner); a != "" {
		req := DuelNotification(stats.Winner.UserID, domain.NotifyAchievement, d)
		req.Data.Achievement = a
		e.notify(ctx, req)
	}
}

// ---------- batch operations ----------

// ExpireStaleProposals moves every proposal past its expiry to expired and
// returns how many were moved.
func (e *Engine) ExpireStaleProposals(ctx context.Context) (int, error) {
	ctx, span := e.tracer().Start(ctx, "ExpireStaleProposals")
	defer span.End()

	stale, err := repo.ListStaleProposals(ctx, e.DB, e.now(), 500)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range stale {
		d, changed, err := e.mutate(ctx, stale[i].ID, func(d *domain.Duel, now time.Time) error {
			if d.Status != domain.StatusProposed || now.Before(d.ExpiresAt) {
				return errUnchanged
			}
			d.Status = domain.StatusExpired
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Str("component", "engine").Str("duel_id", stale[i].ID).Msg("expire proposal")
			continue
		}
		if changed {
			expired++
			e.notify(ctx, DuelNotification(d.ChallengerID, domain.NotifyDuelExpired, d))
		}
	}
	return expired, nil
}

// ResolveElapsed resolves every ended match whose verification window has
// passed and returns how many were resolved.
func (e *Engine) ResolveElapsed(ctx context.Context) (int, error) {
	ctx, span := e.tracer().Start(ctx, "ResolveElapsed")
	defer span.End()

	awaiting, err := repo.ListAwaitingVerification(ctx, e.DB)
	if err != nil {
		return 0, err
	}
	now := e.now()
	resolved := 0
	for i := range awaiting {
		deadline, _ := awaiting[i].VerificationDeadline(e.VerificationWindow)
		if now.Before(deadline) {
			continue
		}
		if _, err := e.Resolve(ctx, awaiting[i].ID); err != nil {
			log.Warn().Err(err).Str("component", "engine").Str("duel_id", awaiting[i].ID).Msg("resolve elapsed")
			continue
		}
		resolved++
	}
	return resolved, nil
}

// SendVerificationReminders reminds players who have not submitted a
// verified screenshot while their window is open. It returns how many
// reminders were queued; existing reminders suppress new ones.
func (e *Engine) SendVerificationReminders(ctx context.Context) (int, error) {
	ctx, span := e.tracer().Start(ctx, "SendVerificationReminders")
	defer span.End()

	awaiting, err := repo.ListAwaitingVerification(ctx, e.DB)
	if err != nil {
		return 0, err
	}
	now := e.now()
	sent := 0
	for i := range awaiting {
		d := &awaiting[i]
		deadline, _ := d.VerificationDeadline(e.VerificationWindow)
		if !now.Before(deadline) {
			continue
		}
		subs, err := repo.ListSubmissions(ctx, e.DB, d.ID)
		if err != nil {
			return sent, err
		}
		for _, uid := range []string{d.ChallengerID, d.OpponentID} {
			if subs[uid].CountsBy(deadline) {
				continue
			}
			req := DuelNotification(uid, domain.NotifyVerificationReminder, d)
			req.TTL = deadline.Sub(now)
			if _, created, err := e.Notify.Enqueue(ctx, req); err != nil {
				return sent, err
			} else if created {
				sent++
			}
		}
	}
	return sent, nil
}

// ---------- write path ----------

// errUnchanged is returned by a mutation that found nothing to do.
var errUnchanged = errors.New("unchanged")

// mutate re-reads the duel, applies fn to a copy and writes it with a
// compare-and-swap. A lost race re-runs the whole read-apply-write cycle up
// to WriteMaxTries times. changed is false when fn returned errUnchanged;
// the current row is returned then.
func (e *Engine) mutate(ctx context.Context, id string, fn func(d *domain.Duel, now time.Time) error) (*domain.Duel, bool, error) {
	var prev *domain.Duel
	d, err := backoff.Retry(ctx, func() (*domain.Duel, error) {
		prev = nil
		cur, err := e.Get(ctx, id)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		next := cur.Clone()
		if err := fn(next, e.now()); err != nil {
			if errors.Is(err, errUnchanged) {
				return cur, nil
			}
			return nil, backoff.Permanent(err)
		}
		if next.Status != cur.Status && !domain.CanTransition(cur.Status, next.Status) {
			return nil, backoff.Permanent(&TransitionError{DuelID: id, From: cur.Status, To: next.Status})
		}
		if err := next.Validate(); err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := repo.UpdateDuel(ctx, e.DB, next); err != nil {
			switch {
			case errors.Is(err, repo.ErrConflict):
				writeConflicts.Inc()
				return nil, err
			case repo.IsNotFound(err):
				return nil, backoff.Permanent(ErrDuelNotFound)
			}
			return nil, backoff.Permanent(err)
		}
		prev = cur
		return next, nil
	},
		backoff.WithBackOff(e.RetryBackOff()),
		backoff.WithMaxTries(e.WriteMaxTries),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil, false, fmt.Errorf("%w: %s", ErrConflict, id)
		}
		return nil, false, unwrapPermanent(err)
	}
	if prev == nil {
		return d, false, nil
	}
	if prev.Status != d.Status {
		duelTransitions.WithLabelValues(string(prev.Status), string(d.Status)).Inc()
	}
	e.Feed.Publish(domain.DuelChange{Kind: domain.ChangeUpdate, Old: prev, New: d.Clone()})
	return d, true, nil
}

// notify enqueues a notification, logging failures.
func (e *Engine) notify(ctx context.Context, req EnqueueRequest) {
	if e.Notify == nil {
		return
	}
	if _, _, err := e.Notify.Enqueue(ctx, req); err != nil {
		log.Error().Err(err).
			Str("component", "engine").
			Str("user_id", req.UserID).
			Str("type", string(req.Type)).
			Str("duel_id", req.Data.DuelID).
			Msg("enqueue notification")
	}
}

func unwrapPermanent(err error) error {
	var p *backoff.PermanentError
	if errors.As(err, &p) {
		return p.Err
	}
	return err
}

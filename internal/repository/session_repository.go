package repository

import (
	"context"
	"game-rewards/internal/model"
	"time"
)

// SessionRepository defines the play-session data operations. Complete is the
// single conditional-transition write the state machine relies on.
type SessionRepository interface {
	// Create persists a new session in Pending state.
	Create(ctx context.Context, session *model.PlaySession) error

	// GetBySessionID retrieves a session by its client-visible id.
	GetBySessionID(ctx context.Context, sessionID string) (*model.PlaySession, error)

	// Complete atomically transitions the session to Completed, recording the
	// final score, iff its current state is one of fromStates. Exactly one
	// concurrent caller wins; losers get ErrNoTransition.
	Complete(ctx context.Context, sessionID string, fromStates []model.SessionState, finalScore int, completedAt time.Time) (*model.PlaySession, error)

	// RecordOutcome stores the computed discount outcome on the session so
	// later finish calls can replay it.
	RecordOutcome(ctx context.Context, sessionID string, outcome *model.DiscountOutcome) error

	// MarkAbandoned transitions an Expired session to Abandoned, the terminal
	// state a refused late finish pins. No-op when the session is not Expired.
	MarkAbandoned(ctx context.Context, sessionID string) error

	// ExpireStale marks Pending sessions created before the cutoff as
	// Expired. Advisory bookkeeping; returns the number of sessions marked.
	ExpireStale(ctx context.Context, before time.Time) (int64, error)
}

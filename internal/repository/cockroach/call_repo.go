package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"campuslink-backend/internal/domain"
	"campuslink-backend/pkg/errors"
)

// CallRepository persists call session records. Status updates are guarded
// in SQL so the ledger only ever moves forward, regardless of how many
// concurrent writers race on the same session.
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call session repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Create inserts a new call session record
func (r *CallRepository) Create(ctx context.Context, session *domain.CallSession) error {
	query := `
		INSERT INTO call_sessions (
			session_id, caller_id, receiver_id, status, created_at
		) VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.CallerID,
		session.ReceiverID,
		session.Status,
		session.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create call session: %w", err)
	}

	return nil
}

// Accept moves a session from ringing to accepted. Returns false when the
// session was not in ringing, which callers treat as a stale transition.
func (r *CallRepository) Accept(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	query := `
		UPDATE call_sessions
		SET status = 'accepted'
		WHERE session_id = $1 AND status = 'ringing'
	`

	tag, err := r.pool.Exec(ctx, query, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to accept call session: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// End marks a session as ended and records its duration. Idempotent: a
// session already ended is left untouched and reported as not advanced.
func (r *CallRepository) End(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	query := `
		UPDATE call_sessions
		SET status = 'ended',
		    ended_at = NOW(),
		    duration = EXTRACT(EPOCH FROM (NOW() - created_at))::INT
		WHERE session_id = $1 AND status IN ('ringing', 'accepted')
	`

	tag, err := r.pool.Exec(ctx, query, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to end call session: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// GetByID retrieves a call session by ID
func (r *CallRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	query := `
		SELECT session_id, caller_id, receiver_id, status, created_at, ended_at, duration
		FROM call_sessions
		WHERE session_id = $1
	`

	session := &domain.CallSession{}
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.ID,
		&session.CallerID,
		&session.ReceiverID,
		&session.Status,
		&session.CreatedAt,
		&session.EndedAt,
		&session.Duration,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}

	return session, nil
}

// ActiveBetween returns the non-ended session between two users, if any.
// Used to reject a second simultaneous call between the same pair.
func (r *CallRepository) ActiveBetween(ctx context.Context, a, b uuid.UUID) (*domain.CallSession, error) {
	query := `
		SELECT session_id, caller_id, receiver_id, status, created_at, ended_at, duration
		FROM call_sessions
		WHERE ((caller_id = $1 AND receiver_id = $2) OR (caller_id = $2 AND receiver_id = $1))
		  AND status != 'ended'
		ORDER BY created_at DESC
		LIMIT 1
	`

	session := &domain.CallSession{}
	err := r.pool.QueryRow(ctx, query, a, b).Scan(
		&session.ID,
		&session.CallerID,
		&session.ReceiverID,
		&session.Status,
		&session.CreatedAt,
		&session.EndedAt,
		&session.Duration,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check active session: %w", err)
	}

	return session, nil
}

// GetUserSessions retrieves a user's call history, newest first
func (r *CallRepository) GetUserSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	query := `
		SELECT session_id, caller_id, receiver_id, status, created_at, ended_at, duration
		FROM call_sessions
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.CallSession
	for rows.Next() {
		session := &domain.CallSession{}
		err := rows.Scan(
			&session.ID,
			&session.CallerID,
			&session.ReceiverID,
			&session.Status,
			&session.CreatedAt,
			&session.EndedAt,
			&session.Duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call session: %w", err)
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}

package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"lingochat-backend/internal/domain"
	"lingochat-backend/internal/repository"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateUniqueViolation      = "23505"

	maxTxAttempts = 3
)

const sessionColumns = `id, conversation_id, initiator_id, mode, status,
	started_at, answered_at, ended_at, duration, metadata`

const participantColumns = `id, call_session_id, user_id, anonymous_id, role,
	joined_at, left_at, is_audio_enabled, is_video_enabled, connection_quality`

// CallRepository handles call session data operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

var _ repository.CallSessionStore = (*CallRepository)(nil)

// WithTransaction runs fn in a SERIALIZABLE transaction, retrying when
// CockroachDB reports a serialization conflict
func (r *CallRepository) WithTransaction(ctx context.Context, fn func(tx repository.CallTx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			return fn(&callTx{tx: tx})
		})
		if !isSQLState(err, sqlStateSerializationFailure) {
			return err
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

// GetSession retrieves a call session by ID
func (r *CallRepository) GetSession(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, callID))
}

// ListParticipants retrieves every participant row of a call, left or not
func (r *CallRepository) ListParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM call_participants
		WHERE call_session_id = $1
		ORDER BY joined_at ASC
	`
	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	return collectParticipants(rows)
}

// FindStaleSessions returns live sessions started before the cutoff
func (r *CallRepository) FindStaleSessions(ctx context.Context, startedBefore time.Time) ([]*domain.CallSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM call_sessions
		WHERE status IN ('initiated', 'ringing', 'active') AND started_at < $1
		ORDER BY started_at ASC
	`
	rows, err := r.pool.Query(ctx, query, startedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale calls: %w", err)
	}
	return collectSessions(rows)
}

// ListUserCalls retrieves the calls a user took part in, newest first
func (r *CallRepository) ListUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM call_sessions
		WHERE id IN (SELECT call_session_id FROM call_participants WHERE user_id = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	return collectSessions(rows)
}

// callTx implements repository.CallTx on a pgx transaction
type callTx struct {
	tx pgx.Tx
}

func (t *callTx) LockSession(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE id = $1 FOR UPDATE`
	return scanSession(t.tx.QueryRow(ctx, query, callID))
}

func (t *callTx) FindLiveSessionByConversation(ctx context.Context, conversationID uuid.UUID) (*domain.CallSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM call_sessions
		WHERE conversation_id = $1 AND status IN ('initiated', 'ringing', 'active')
		LIMIT 1
		FOR UPDATE
	`
	return scanSession(t.tx.QueryRow(ctx, query, conversationID))
}

func (t *callTx) ActiveParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM call_participants
		WHERE call_session_id = $1 AND left_at IS NULL
		ORDER BY joined_at ASC
		FOR UPDATE
	`
	rows, err := t.tx.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active participants: %w", err)
	}
	return collectParticipants(rows)
}

func (t *callTx) CreateSession(ctx context.Context, s *domain.CallSession) error {
	query := `
		INSERT INTO call_sessions (
			id, conversation_id, initiator_id, mode, status, started_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := t.tx.Exec(ctx, query,
		s.ID,
		s.ConversationID,
		s.InitiatorID,
		string(s.Mode),
		string(s.Status),
		s.StartedAt,
		s.Metadata,
	)
	if isSQLState(err, sqlStateUniqueViolation) {
		return repository.ErrLiveSessionExists
	}
	if err != nil {
		return fmt.Errorf("failed to create call session: %w", err)
	}
	return nil
}

func (t *callTx) CreateParticipant(ctx context.Context, p *domain.CallParticipant) error {
	query := `
		INSERT INTO call_participants (
			id, call_session_id, user_id, anonymous_id, role, joined_at,
			is_audio_enabled, is_video_enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.Exec(ctx, query,
		p.ID,
		p.CallSessionID,
		p.UserID,
		p.AnonymousID,
		string(p.Role),
		p.JoinedAt,
		p.IsAudioEnabled,
		p.IsVideoEnabled,
	)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

func (t *callTx) UpdateSession(ctx context.Context, s *domain.CallSession) error {
	query := `
		UPDATE call_sessions
		SET status = $2, answered_at = $3, ended_at = $4, duration = $5, metadata = $6
		WHERE id = $1
	`
	tag, err := t.tx.Exec(ctx, query,
		s.ID,
		string(s.Status),
		s.AnsweredAt,
		s.EndedAt,
		s.Duration,
		s.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to update call session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *callTx) MarkParticipantLeft(ctx context.Context, participantID uuid.UUID, at time.Time) error {
	query := `
		UPDATE call_participants
		SET left_at = $2
		WHERE id = $1 AND left_at IS NULL
	`
	if _, err := t.tx.Exec(ctx, query, participantID, at); err != nil {
		return fmt.Errorf("failed to mark participant left: %w", err)
	}
	return nil
}

func (t *callTx) MarkAllParticipantsLeft(ctx context.Context, callID uuid.UUID, at time.Time) (int, error) {
	query := `
		UPDATE call_participants
		SET left_at = $2
		WHERE call_session_id = $1 AND left_at IS NULL
	`
	tag, err := t.tx.Exec(ctx, query, callID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark participants left: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *callTx) UpdateParticipantMedia(ctx context.Context, participantID uuid.UUID, audio, video bool) error {
	query := `
		UPDATE call_participants
		SET is_audio_enabled = $2, is_video_enabled = $3
		WHERE id = $1
	`
	if _, err := t.tx.Exec(ctx, query, participantID, audio, video); err != nil {
		return fmt.Errorf("failed to update participant media: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*domain.CallSession, error) {
	s := &domain.CallSession{}
	var mode, status string
	err := row.Scan(
		&s.ID,
		&s.ConversationID,
		&s.InitiatorID,
		&mode,
		&status,
		&s.StartedAt,
		&s.AnsweredAt,
		&s.EndedAt,
		&s.Duration,
		&s.Metadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}
	s.Mode = domain.CallMode(mode)
	s.Status = domain.CallStatus(status)
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	return s, nil
}

func collectSessions(rows pgx.Rows) ([]*domain.CallSession, error) {
	defer rows.Close()

	var sessions []*domain.CallSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call sessions: %w", err)
	}
	return sessions, nil
}

func collectParticipants(rows pgx.Rows) ([]*domain.CallParticipant, error) {
	defer rows.Close()

	var participants []*domain.CallParticipant
	for rows.Next() {
		p := &domain.CallParticipant{}
		var role string
		err := rows.Scan(
			&p.ID,
			&p.CallSessionID,
			&p.UserID,
			&p.AnonymousID,
			&role,
			&p.JoinedAt,
			&p.LeftAt,
			&p.IsAudioEnabled,
			&p.IsVideoEnabled,
			&p.ConnectionQuality,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		p.Role = domain.ParticipantRole(role)
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read participants: %w", err)
	}
	return participants, nil
}

func isSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

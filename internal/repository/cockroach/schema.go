package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// callSchema creates the call tables. The partial unique index keeps at
// most one live session per conversation even under concurrent initiates.
const callSchema = `
CREATE TABLE IF NOT EXISTS call_sessions (
	id UUID PRIMARY KEY,
	conversation_id UUID NOT NULL,
	initiator_id UUID NOT NULL,
	mode STRING NOT NULL DEFAULT 'p2p',
	status STRING NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	answered_at TIMESTAMPTZ,
	ended_at TIMESTAMPTZ,
	duration INT,
	metadata JSONB NOT NULL DEFAULT '{}',
	INDEX idx_call_sessions_status_started (status, started_at)
);

CREATE UNIQUE INDEX IF NOT EXISTS uniq_live_call_per_conversation
	ON call_sessions (conversation_id)
	WHERE status IN ('initiated', 'ringing', 'active');

CREATE TABLE IF NOT EXISTS call_participants (
	id UUID PRIMARY KEY,
	call_session_id UUID NOT NULL REFERENCES call_sessions (id) ON DELETE CASCADE,
	user_id UUID,
	anonymous_id STRING,
	role STRING NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL,
	left_at TIMESTAMPTZ,
	is_audio_enabled BOOL NOT NULL DEFAULT true,
	is_video_enabled BOOL NOT NULL DEFAULT false,
	connection_quality STRING,
	CHECK ((user_id IS NULL) != (anonymous_id IS NULL)),
	INDEX idx_call_participants_session (call_session_id),
	INDEX idx_call_participants_user (user_id)
);
`

// Migrate creates the call tables if they do not exist yet
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, callSchema); err != nil {
		return fmt.Errorf("failed to apply call schema: %w", err)
	}
	return nil
}

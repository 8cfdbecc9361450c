package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool the store uses. Every call checks a
// connection out of the pool and returns it before the call completes.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore persists conversations and messages in Postgres.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgresStore wraps a pgx pool.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	if pool == nil {
		panic("conversation: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

const conversationColumns = `id, external_contact_id, owner_user_id, subject_id, kind, status, config, created_at, updated_at`

func (s *PostgresStore) CreateConversation(ctx context.Context, in CreateConversationInput) (*Conversation, error) {
	if err := in.normalize(); err != nil {
		return nil, invalid(err)
	}
	cfg, err := json.Marshal(in.Config)
	if err != nil {
		return nil, fmt.Errorf("conversation: marshal config: %w", err)
	}
	query := `
		INSERT INTO conversations (id, external_contact_id, owner_user_id, subject_id, kind, status, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + conversationColumns
	row := s.pool.QueryRow(ctx, query,
		uuid.New(),
		in.ExternalContactID,
		in.OwnerUserID,
		in.SubjectID,
		string(in.Kind),
		string(in.Status),
		cfg,
	)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, storageErr("insert conversation", err)
	}
	return conv, nil
}

func (s *PostgresStore) FindConversationByID(ctx context.Context, id string) (*Conversation, error) {
	convID, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	conv, err := scanConversation(s.pool.QueryRow(ctx, query, convID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("select conversation", err)
	}
	return conv, nil
}

func (s *PostgresStore) FindConversationByExternalContactID(ctx context.Context, externalID string) (*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE external_contact_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	conv, err := scanConversation(s.pool.QueryRow(ctx, query, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("select conversation by contact", err)
	}
	return conv, nil
}

func (s *PostgresStore) UpdateConversationStatus(ctx context.Context, id string, status Status) (*Conversation, error) {
	if err := checkStatus(status); err != nil {
		return nil, err
	}
	convID, err := uuid.Parse(id)
	if err != nil {
		return nil, conversationNotFound(id)
	}
	query := `
		UPDATE conversations
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + conversationColumns
	conv, err := scanConversation(s.pool.QueryRow(ctx, query, convID, string(status)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conversationNotFound(id)
	}
	if err != nil {
		return nil, storageErr("update conversation status", err)
	}
	return conv, nil
}

// MergeConversationConfig relies on jsonb concatenation, which replaces
// top-level keys present in the patch and keeps the rest.
// An empty patch reads the row without touching updated_at.
func (s *PostgresStore) MergeConversationConfig(ctx context.Context, id string, patch Config) (*Conversation, error) {
	convID, err := uuid.Parse(id)
	if err != nil {
		return nil, conversationNotFound(id)
	}
	if patch.IsZero() {
		conv, err := s.FindConversationByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			return nil, conversationNotFound(id)
		}
		return conv, nil
	}
	encoded, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("conversation: marshal config patch: %w", err)
	}
	query := `
		UPDATE conversations
		SET config = COALESCE(config, '{}'::jsonb) || $2::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING ` + conversationColumns
	conv, err := scanConversation(s.pool.QueryRow(ctx, query, convID, encoded))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conversationNotFound(id)
	}
	if err != nil {
		return nil, storageErr("merge conversation config", err)
	}
	return conv, nil
}

const messageColumns = `id, conversation_id, kind, external_message_id, event_time, in_reply_to_external_id, channel_origin_id, raw_payload, payload, status, created_at, updated_at`

func (s *PostgresStore) CreateMessage(ctx context.Context, in NewMessage) (*Message, error) {
	if err := in.normalize(time.Now().UTC()); err != nil {
		return nil, invalid(err)
	}
	convID, err := uuid.Parse(in.ConversationID)
	if err != nil {
		return nil, conversationNotFound(in.ConversationID)
	}
	payload, err := encodePayload(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("conversation: marshal %s payload: %w", in.Kind, err)
	}
	var raw []byte
	if len(in.RawPayload) > 0 {
		raw = in.RawPayload
	}
	query := `
		INSERT INTO messages (
			id, conversation_id, kind, external_message_id, event_time,
			in_reply_to_external_id, channel_origin_id, raw_payload, payload, status
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING ` + messageColumns
	msg, err := scanMessage(s.pool.QueryRow(ctx, query,
		uuid.New(),
		convID,
		string(in.Kind),
		in.ExternalMessageID,
		in.Timestamp,
		in.InReplyToExternalID,
		in.ChannelOriginID,
		raw,
		payload,
		string(in.Status),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, conversationNotFound(in.ConversationID)
		}
		return nil, storageErr("insert message", err)
	}
	return msg, nil
}

func (s *PostgresStore) FindMessageByID(ctx context.Context, id string) (*Message, error) {
	msgID, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, msgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("select message", err)
	}
	return msg, nil
}

func (s *PostgresStore) FindMessageByExternalID(ctx context.Context, externalID string) (*Message, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, nil
	}
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE external_message_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("select message by external id", err)
	}
	return msg, nil
}

func (s *PostgresStore) FindMessagesByConversation(ctx context.Context, conversationID string, filter MessageFilter) ([]*Message, error) {
	if err := checkFilter(filter); err != nil {
		return nil, err
	}
	convID, err := uuid.Parse(conversationID)
	if err != nil {
		return []*Message{}, nil
	}
	var (
		where = []string{"conversation_id = $1"}
		args  = []any{convID}
	)
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	defer rows.Close()

	out := make([]*Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, storageErr("scan message", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list messages", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, id string, status MessageStatus) (*Message, error) {
	if err := checkMessageStatus(status); err != nil {
		return nil, err
	}
	msgID, err := uuid.Parse(id)
	if err != nil {
		return nil, messageNotFound(id)
	}
	query := `
		UPDATE messages
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + messageColumns
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, msgID, string(status)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, messageNotFound(id)
	}
	if err != nil {
		return nil, storageErr("update message status", err)
	}
	return msg, nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		conv   Conversation
		id     uuid.UUID
		kind   string
		status string
		config []byte
	)
	if err := row.Scan(
		&id,
		&conv.ExternalContactID,
		&conv.OwnerUserID,
		&conv.SubjectID,
		&kind,
		&status,
		&config,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	conv.ID = id.String()
	conv.Kind = Kind(kind)
	conv.Status = Status(status)
	if err := json.Unmarshal(config, &conv.Config); err != nil && len(config) > 0 {
		return nil, err
	}
	return &conv, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		msg     Message
		id      uuid.UUID
		convID  uuid.UUID
		kind    string
		status  string
		raw     []byte
		payload []byte
	)
	if err := row.Scan(
		&id,
		&convID,
		&kind,
		&msg.ExternalMessageID,
		&msg.Timestamp,
		&msg.InReplyToExternalID,
		&msg.ChannelOriginID,
		&raw,
		&payload,
		&status,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	msg.ID = id.String()
	msg.ConversationID = convID.String()
	msg.Kind = MessageKind(kind)
	msg.Status = MessageStatus(status)
	if len(raw) > 0 {
		msg.RawPayload = json.RawMessage(raw)
	}
	p, err := decodePayload(msg.Kind, payload)
	if err != nil {
		return nil, err
	}
	msg.Payload = p
	return &msg, nil
}

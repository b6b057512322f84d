package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		"requests",
		"request_events",
		"request_event_sequences",
	}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run migrations/001_request_events.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) CreateRequest(ctx context.Context, req store.Request) error {
	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = store.StatusRunning
	}
	createdAt := parseTimestampValue(req.CreatedAt)
	updatedAt := createdAt
	if strings.TrimSpace(req.UpdatedAt) != "" {
		updatedAt = parseTimestampValue(req.UpdatedAt)
	}
	const query = `
		INSERT INTO requests (id, message_id, status, stage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		req.ID,
		nullString(req.MessageID),
		status,
		nullString(req.Stage),
		createdAt,
		updatedAt,
	)
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, requestID string) (*store.Request, error) {
	const query = `
		SELECT id, message_id, status, stage, created_at, updated_at
		FROM requests
		WHERE id = $1
	`
	req, err := scanRequest(p.db.QueryRowContext(ctx, query, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (p *PostgresStore) ListRequests(ctx context.Context, limit int) ([]store.Request, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, message_id, status, stage, created_at, updated_at
		FROM requests
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event store.RequestEvent) error {
	event.Type = store.NormalizeEventType(event.Type)
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	const query = `
		INSERT INTO request_events (request_id, seq, type, timestamp, source, trace_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(
		ctx,
		query,
		event.RequestID,
		event.Seq,
		event.Type,
		parseTimestampValue(event.Timestamp),
		event.Source,
		traceIDValue(event.TraceID),
		encoded,
	); err != nil {
		return err
	}
	if err = applyRequestStateTx(ctx, tx, event); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, requestID string, afterSeq int64) ([]store.RequestEvent, error) {
	const query = `
		SELECT request_id, seq, type, timestamp, source, trace_id, payload
		FROM request_events
		WHERE request_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	rows, err := p.db.QueryContext(ctx, query, requestID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.RequestEvent{}
	for rows.Next() {
		var payloadBytes []byte
		var timestamp time.Time
		var traceID sql.NullString
		var event store.RequestEvent
		if err := rows.Scan(&event.RequestID, &event.Seq, &event.Type, &timestamp, &event.Source, &traceID, &payloadBytes); err != nil {
			return nil, err
		}
		event.Timestamp = timestamp.UTC().Format(time.RFC3339Nano)
		if traceID.Valid {
			event.TraceID = traceID.String
		}
		event.Payload = map[string]any{}
		if len(payloadBytes) > 0 {
			if err := json.Unmarshal(payloadBytes, &event.Payload); err != nil {
				return nil, err
			}
		}
		results = append(results, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) NextSeq(ctx context.Context, requestID string) (int64, error) {
	const query = `
		INSERT INTO request_event_sequences (request_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (request_id)
		DO UPDATE SET last_seq = request_event_sequences.last_seq + 1
		RETURNING last_seq
	`
	var seq int64
	if err := p.db.QueryRowContext(ctx, query, requestID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func applyRequestStateTx(ctx context.Context, tx *sql.Tx, event store.RequestEvent) error {
	status, stage, ok := store.StateFromEvent(event)
	if !ok {
		return nil
	}
	const query = `
		UPDATE requests
		SET
			status = COALESCE(NULLIF($2, ''), status),
			stage = COALESCE(NULLIF($3, ''), stage),
			updated_at = $4
		WHERE id = $1
	`
	_, err := tx.ExecContext(ctx, query, event.RequestID, status, stage, parseTimestampValue(event.Timestamp))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (store.Request, error) {
	var req store.Request
	var messageID, stage sql.NullString
	var createdAt, updatedAt time.Time
	if err := row.Scan(&req.ID, &messageID, &req.Status, &stage, &createdAt, &updatedAt); err != nil {
		return store.Request{}, err
	}
	req.MessageID = messageID.String
	req.Stage = stage.String
	req.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	req.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return req, nil
}

// traceIDValue keeps only ids the uuid column accepts.
func traceIDValue(traceID string) any {
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return nil
	}
	if _, err := uuid.Parse(traceID); err != nil {
		return nil
	}
	return traceID
}

func parseTimestampValue(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/hooks"
	"github.com/soyeahso/chatform/internal/logging"
)

// ErrNotFound is returned when a submission does not exist.
var ErrNotFound = errors.New("store: not found")

// defaultListLimit caps List when no limit is given.
const defaultListLimit = 50

// Submissions stores completed visitor sessions.
type Submissions interface {
	// Save records a submission. Saving the same session twice keeps the
	// first record.
	Save(ctx context.Context, sub *domain.Submission) error

	// Get returns a submission by ID.
	Get(ctx context.Context, id string) (*domain.Submission, error)

	// List returns the newest submissions for an agent first. A limit of
	// 0 defaults to 50.
	List(ctx context.Context, agentID string, limit int) ([]domain.Submission, error)
}

// SubmissionStore is the SQLite Submissions implementation.
type SubmissionStore struct {
	db *DB
}

// NewSubmissionStore creates a submission store using the given database.
func NewSubmissionStore(db *DB) *SubmissionStore {
	return &SubmissionStore{db: db}
}

// Save implements Submissions.
func (s *SubmissionStore) Save(ctx context.Context, sub *domain.Submission) error {
	prepare(sub)

	fields, err := json.Marshal(sub.Fields)
	if err != nil {
		return fmt.Errorf("encoding fields: %w", err)
	}
	var transcript sql.NullString
	if len(sub.Transcript) > 0 {
		data, err := json.Marshal(sub.Transcript)
		if err != nil {
			return fmt.Errorf("encoding transcript: %w", err)
		}
		transcript = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO submissions (id, agent_id, session_id, fields, transcript, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sub.ID, sub.AgentID, sub.SessionID, string(fields), transcript,
		sub.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving submission: %w", err)
	}
	return nil
}

// Get implements Submissions.
func (s *SubmissionStore) Get(ctx context.Context, id string) (*domain.Submission, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT id, agent_id, session_id, fields, transcript, completed_at
		 FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// List implements Submissions.
func (s *SubmissionStore) List(ctx context.Context, agentID string, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, agent_id, session_id, fields, transcript, completed_at
		 FROM submissions WHERE agent_id = ?
		 ORDER BY completed_at DESC, id
		 LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*domain.Submission, error) {
	var sub domain.Submission
	var fields, completedAt string
	var transcript sql.NullString
	if err := row.Scan(&sub.ID, &sub.AgentID, &sub.SessionID, &fields, &transcript, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &sub.Fields); err != nil {
		return nil, fmt.Errorf("decoding fields of %s: %w", sub.ID, err)
	}
	if transcript.Valid {
		if err := json.Unmarshal([]byte(transcript.String), &sub.Transcript); err != nil {
			return nil, fmt.Errorf("decoding transcript of %s: %w", sub.ID, err)
		}
	}
	sub.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
	return &sub, nil
}

func prepare(sub *domain.Submission) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.CompletedAt.IsZero() {
		sub.CompletedAt = time.Now()
	}
	if sub.Fields == nil {
		sub.Fields = map[string]domain.FieldValue{}
	}
}

// completionPayload is the data of a session_completed event.
type completionPayload struct {
	SessionID   string                       `json:"sessionId"`
	AgentID     string                       `json:"agentId"`
	Fields      map[string]domain.FieldValue `json:"fields"`
	Transcript  []domain.ChatMessage         `json:"transcript"`
	CompletedAt time.Time                    `json:"completedAt"`
}

// SubmissionHook returns a hook handler that saves session_completed
// events to subs.
func SubmissionHook(subs Submissions, log *logging.Logger) hooks.Handler {
	log = log.Sub("submissions")
	return func(ctx context.Context, p hooks.Payload) error {
		data, err := json.Marshal(p.Data)
		if err != nil {
			return fmt.Errorf("encoding %s payload: %w", p.Event, err)
		}
		var c completionPayload
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("decoding %s payload: %w", p.Event, err)
		}
		if c.SessionID == "" || c.AgentID == "" {
			return fmt.Errorf("%s payload without session or agent", p.Event)
		}

		sub := &domain.Submission{
			AgentID:     c.AgentID,
			SessionID:   c.SessionID,
			Fields:      c.Fields,
			Transcript:  c.Transcript,
			CompletedAt: c.CompletedAt,
		}
		if err := subs.Save(ctx, sub); err != nil {
			return err
		}
		log.Info().
			Str("agentId", sub.AgentID).
			Str("sessionId", sub.SessionID).
			Int("fields", len(sub.Fields)).
			Msg("submission saved")
		return nil
	}
}

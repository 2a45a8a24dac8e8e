package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/chatform/internal/agents"
	"github.com/soyeahso/chatform/internal/domain"
)

// AgentStore keeps agent definitions in SQLite. It implements
// agents.Provider and agents.Lister.
type AgentStore struct {
	db *DB
}

// NewAgentStore creates an agent store using the given database.
func NewAgentStore(db *DB) *AgentStore {
	return &AgentStore{db: db}
}

// Get returns the agent with the given id. A missing row is
// agents.ErrAgentNotFound; any other database failure is reported as
// agents.ErrUnavailable.
func (s *AgentStore) Get(ctx context.Context, id string) (*domain.AgentConfig, error) {
	var raw string
	err := s.db.sql.QueryRowContext(ctx, `SELECT config FROM agents WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, agents.ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", agents.ErrUnavailable, err)
	}

	var cfg domain.AgentConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("decoding agent %s: %w", id, err)
	}
	return &cfg, nil
}

// List returns every stored agent ordered by id.
func (s *AgentStore) List(ctx context.Context) ([]*domain.AgentConfig, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT id, config FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", agents.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []*domain.AgentConfig
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var cfg domain.AgentConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			s.db.log.Warn().Err(err).Str("agentId", id).Msg("skipping undecodable agent")
			continue
		}
		out = append(out, &cfg)
	}
	return out, rows.Err()
}

// Put validates and inserts or replaces an agent.
func (s *AgentStore) Put(ctx context.Context, cfg *domain.AgentConfig) error {
	if err := agents.Validate(cfg); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding agent %s: %w", cfg.ID, err)
	}

	now := time.Now().UTC().Format(time.DateTime)
	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO agents (id, name, config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   config = excluded.config,
		   updated_at = excluded.updated_at`,
		cfg.ID, cfg.Name, string(data), now, now,
	)
	if err != nil {
		return fmt.Errorf("saving agent %s: %w", cfg.ID, err)
	}
	s.db.log.Debug().Str("agentId", cfg.ID).Msg("agent saved")
	return nil
}

// Delete removes an agent. Deleting a missing agent returns
// agents.ErrAgentNotFound.
func (s *AgentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return agents.ErrAgentNotFound
	}
	return nil
}

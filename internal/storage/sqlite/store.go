// Package sqlite implements the game-state boundary on a local SQLite file, for
// development and single-node deployments without the external service.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	gamestate "github.com/CodeAndHammer/duelqueue/internal/gamestate"
	models "github.com/CodeAndHammer/duelqueue/internal/models"
)

//go:embed schema.sql
var schema string

// Store provides SQLite-backed game-state persistence.
type Store struct {
	sqlDB          *sql.DB
	defaultProfile models.Profile
	now            func() time.Time
}

// Open opens the database at path and applies the schema. Identities without a
// stored profile are queued with defaultProfile.
func Open(path string, defaultProfile models.Profile) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, defaultProfile: defaultProfile, now: time.Now}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutQueuingProfile inserts or replaces a profile.
func (s *Store) PutQueuingProfile(ctx context.Context, identity string, profile models.Profile) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO queuing_profiles (identity, skill, league) VALUES (?, ?, ?)
ON CONFLICT(identity) DO UPDATE SET skill = excluded.skill, league = excluded.league
`, identity, profile.Skill, profile.League)
	if err != nil {
		return fmt.Errorf("put queuing profile: %w", err)
	}
	return nil
}

func (s *Store) FetchQueuingProfile(ctx context.Context, identity string) (models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return models.Profile{}, err
	}
	var p models.Profile
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT skill, league FROM queuing_profiles WHERE identity = ?`, identity,
	).Scan(&p.Skill, &p.League)
	if errors.Is(err, sql.ErrNoRows) {
		return s.defaultProfile, nil
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("fetch queuing profile: %w", err)
	}
	return p, nil
}

func (s *Store) CreateGameSession(ctx context.Context, sessionID string, identities []string, mode models.Mode, league string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if len(identities) == 0 {
		return fmt.Errorf("at least one participant is required")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create game: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO game_sessions (session_id, mode, league, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(mode), league, s.now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert game session: %w", err)
	}
	for _, identity := range identities {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO game_participants (session_id, identity) VALUES (?, ?)`,
			sessionID, identity,
		); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create game: %w", err)
	}
	return nil
}

// GameParticipants lists the identities of a session in insertion order.
func (s *Store) GameParticipants(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT identity FROM game_participants WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	if len(out) == 0 {
		return nil, gamestate.ErrNotFound
	}
	return out, nil
}

func (s *Store) SaveGoldReward(ctx context.Context, identity string, amount int) error {
	if amount == 0 {
		return nil
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO gold_rewards (identity, amount, created_at) VALUES (?, ?, ?)`,
		identity, amount, s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save gold reward: %w", err)
	}
	return nil
}

// GoldBalance sums every reward saved for identity.
func (s *Store) GoldBalance(ctx context.Context, identity string) (int, error) {
	var total int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM gold_rewards WHERE identity = ?`, identity,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("gold balance: %w", err)
	}
	return total, nil
}

func (s *Store) LogQueueActivity(ctx context.Context, identity, kind string, details map[string]any) error {
	encoded := "{}"
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encode activity details: %w", err)
		}
		encoded = string(b)
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO queue_activity (identity, kind, details, created_at) VALUES (?, ?, ?, ?)`,
		identity, kind, encoded, s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("log queue activity: %w", err)
	}
	return nil
}

// CountActivity returns how many activity rows of kind exist for identity.
func (s *Store) CountActivity(ctx context.Context, identity, kind string) (int, error) {
	var n int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_activity WHERE identity = ? AND kind = ?`, identity, kind,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count activity: %w", err)
	}
	return n, nil
}

var _ gamestate.Backend = (*Store)(nil)

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/roomrelay/internal/domain"
	"github.com/ashureev/roomrelay/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db          *sql.DB
	broadcastMu sync.Mutex // serializes slot writes to prevent SQLITE_BUSY
	retry       shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the per-event goroutines read while one of them writes.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(db)
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

// New wraps an open database without touching its schema.
func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS user_rooms (
		user_id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		selected_room TEXT,
		last_selection_date TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_user_rooms_room ON user_rooms(selected_room);

	CREATE TABLE IF NOT EXISTS bot_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_reset_date TEXT
	);
	INSERT OR IGNORE INTO bot_state (id, last_reset_date) VALUES (1, NULL);

	CREATE TABLE IF NOT EXISTS relay_mappings (
		relay_message_id INTEGER PRIMARY KEY,
		origin_chat_id INTEGER NOT NULL,
		origin_user_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_relay_mappings_created ON relay_mappings(created_at);

	CREATE TABLE IF NOT EXISTS pending_broadcast (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		broadcast_id TEXT NOT NULL,
		stage INTEGER NOT NULL,
		audience_all INTEGER NOT NULL DEFAULT 0,
		audience_room TEXT,
		message_json TEXT,
		started_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetRoomAssignment retrieves a user's room record.
func (s *SQLiteStore) GetRoomAssignment(ctx context.Context, userID int64) (*domain.RoomAssignment, error) {
	query := `
		SELECT user_id, username, selected_room, last_selection_date
		FROM user_rooms WHERE user_id = ?`

	var a domain.RoomAssignment
	var room, date sql.NullString

	err := s.db.QueryRowContext(ctx, query, userID).Scan(&a.UserID, &a.DisplayName, &room, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan room assignment: %w", err)
	}

	a.SelectedRoom = room.String
	if date.Valid {
		d := domain.Date(date.String)
		a.LastSelectionDate = &d
	}
	return &a, nil
}

// UpsertRoomAssignment creates or replaces a user's room record.
func (s *SQLiteStore) UpsertRoomAssignment(ctx context.Context, a *domain.RoomAssignment) error {
	query := `
	INSERT INTO user_rooms (user_id, username, selected_room, last_selection_date)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		selected_room = excluded.selected_room,
		last_selection_date = excluded.last_selection_date`

	var room, date interface{}
	if a.SelectedRoom != "" {
		room = a.SelectedRoom
	}
	if a.LastSelectionDate != nil {
		date = string(*a.LastSelectionDate)
	}

	err := shared.Retry(ctx, s.retry, "upsert room assignment", func() error {
		_, err := s.db.ExecContext(ctx, query, a.UserID, a.DisplayName, room, date)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert room assignment: %w", err)
	}
	return nil
}

// ListUserIDs returns users in room, or all users when room is empty, ordered by id.
func (s *SQLiteStore) ListUserIDs(ctx context.Context, room string) ([]int64, error) {
	query := `SELECT user_id FROM user_rooms ORDER BY user_id`
	var args []interface{}
	if room != "" {
		query = `SELECT user_id FROM user_rooms WHERE selected_room = ? ORDER BY user_id`
		args = append(args, room)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user ids: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close user id rows", "error", closeErr)
		}
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return ids, nil
}

// GetResetWatermark returns the singleton reset watermark.
func (s *SQLiteStore) GetResetWatermark(ctx context.Context) (*domain.ResetWatermark, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT last_reset_date FROM bot_state WHERE id = 1`).Scan(&date)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ResetWatermark{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan reset watermark: %w", err)
	}

	wm := &domain.ResetWatermark{}
	if date.Valid {
		d := domain.Date(date.String)
		wm.LastResetDate = &d
	}
	return wm, nil
}

// ApplyDailyReset moves the watermark to today and clears selection dates in one
// transaction. The watermark update is conditional, so concurrent callers and
// other processes sharing the file reset at most once per day.
func (s *SQLiteStore) ApplyDailyReset(ctx context.Context, today domain.Date) (bool, error) {
	var applied bool
	err := shared.Retry(ctx, s.retry, "apply daily reset", func() error {
		var err error
		applied, err = s.applyDailyResetOnce(ctx, today)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("apply daily reset: %w", err)
	}
	return applied, nil
}

func (s *SQLiteStore) applyDailyResetOnce(ctx context.Context, today domain.Date) (applied bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin reset: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("failed to roll back reset", "error", rbErr)
			}
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE bot_state SET last_reset_date = ?
		WHERE id = 1 AND (last_reset_date IS NULL OR last_reset_date != ?)`,
		string(today), string(today))
	if err != nil {
		return false, fmt.Errorf("update watermark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("watermark rows affected: %w", err)
	}

	if n > 0 {
		if _, err = tx.ExecContext(ctx, `UPDATE user_rooms SET last_selection_date = NULL`); err != nil {
			return false, fmt.Errorf("clear selections: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit reset: %w", err)
	}
	return n > 0, nil
}

// SaveRelayMappings writes mappings in one transaction. A reused relay id
// overwrites the earlier origin.
func (s *SQLiteStore) SaveRelayMappings(ctx context.Context, mappings ...*domain.RelayMapping) error {
	if len(mappings) == 0 {
		return nil
	}
	err := shared.Retry(ctx, s.retry, "save relay mappings", func() error {
		return s.saveRelayMappingsOnce(ctx, mappings)
	})
	if err != nil {
		return fmt.Errorf("save relay mappings: %w", err)
	}
	return nil
}

func (s *SQLiteStore) saveRelayMappingsOnce(ctx context.Context, mappings []*domain.RelayMapping) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("failed to roll back relay mappings", "error", rbErr)
			}
		}
	}()

	query := `
	INSERT INTO relay_mappings (relay_message_id, origin_chat_id, origin_user_id, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(relay_message_id) DO UPDATE SET
		origin_chat_id = excluded.origin_chat_id,
		origin_user_id = excluded.origin_user_id,
		created_at = excluded.created_at`

	for _, m := range mappings {
		if _, err = tx.ExecContext(ctx, query, m.RelayMessageID, m.OriginChatID, m.OriginUserID, m.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("insert mapping %d: %w", m.RelayMessageID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetRelayMapping looks up a relay message id.
func (s *SQLiteStore) GetRelayMapping(ctx context.Context, relayMessageID int) (*domain.RelayMapping, error) {
	query := `
		SELECT relay_message_id, origin_chat_id, origin_user_id, created_at
		FROM relay_mappings WHERE relay_message_id = ?`

	var m domain.RelayMapping
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, relayMessageID).Scan(&m.RelayMessageID, &m.OriginChatID, &m.OriginUserID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan relay mapping: %w", err)
	}
	m.CreatedAt = time.Unix(createdAt, 0)
	return &m, nil
}

// PruneRelayMappings deletes mappings created before the cutoff.
func (s *SQLiteStore) PruneRelayMappings(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := shared.Retry(ctx, s.retry, "prune relay mappings", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM relay_mappings WHERE created_at < ?`, before.Unix())
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune relay mappings: %w", err)
	}
	return deleted, nil
}

// GetPendingBroadcast loads the broadcast slot.
func (s *SQLiteStore) GetPendingBroadcast(ctx context.Context) (*domain.PendingBroadcast, error) {
	query := `
		SELECT broadcast_id, stage, audience_all, audience_room, message_json, started_at
		FROM pending_broadcast WHERE id = 1`

	var p domain.PendingBroadcast
	var stage int
	var all bool
	var room, messageJSON sql.NullString
	var startedAt int64

	err := s.db.QueryRowContext(ctx, query).Scan(&p.ID, &stage, &all, &room, &messageJSON, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending broadcast: %w", err)
	}

	p.Stage = domain.Stage(stage)
	p.Audience = domain.Audience{AllUsers: all, Room: room.String}
	p.StartedAt = time.Unix(startedAt, 0)
	if messageJSON.Valid && messageJSON.String != "" {
		var msg domain.Payload
		if err := json.Unmarshal([]byte(messageJSON.String), &msg); err != nil {
			return nil, fmt.Errorf("decode pending broadcast message: %w", err)
		}
		p.Message = &msg
	}
	return &p, nil
}

// SavePendingBroadcast replaces the broadcast slot.
func (s *SQLiteStore) SavePendingBroadcast(ctx context.Context, p *domain.PendingBroadcast) error {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	query := `
	INSERT INTO pending_broadcast (id, broadcast_id, stage, audience_all, audience_room, message_json, started_at)
	VALUES (1, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		broadcast_id = excluded.broadcast_id,
		stage = excluded.stage,
		audience_all = excluded.audience_all,
		audience_room = excluded.audience_room,
		message_json = excluded.message_json,
		started_at = excluded.started_at`

	var room, messageJSON interface{}
	if p.Audience.Room != "" {
		room = p.Audience.Room
	}
	if p.Message != nil {
		data, err := json.Marshal(p.Message)
		if err != nil {
			return fmt.Errorf("encode pending broadcast message: %w", err)
		}
		messageJSON = string(data)
	}

	err := shared.Retry(ctx, s.retry, "save pending broadcast", func() error {
		_, err := s.db.ExecContext(ctx, query, p.ID, int(p.Stage), p.Audience.AllUsers, room, messageJSON, p.StartedAt.Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("save pending broadcast: %w", err)
	}
	return nil
}

// ClearPendingBroadcast empties the broadcast slot.
func (s *SQLiteStore) ClearPendingBroadcast(ctx context.Context) error {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	err := shared.Retry(ctx, s.retry, "clear pending broadcast", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM pending_broadcast WHERE id = 1`)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear pending broadcast: %w", err)
	}
	return nil
}

// Stats summarises persisted state as of today.
func (s *SQLiteStore) Stats(ctx context.Context, today domain.Date) (*domain.Stats, error) {
	st := &domain.Stats{
		UsersByRoom:    make(map[string]int),
		BroadcastStage: domain.StageIdle.String(),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN last_selection_date = ? THEN 1 ELSE 0 END), 0)
		FROM user_rooms`, string(today)).Scan(&st.Users, &st.SelectedToday)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT selected_room, COUNT(*) FROM user_rooms
		WHERE selected_room IS NOT NULL GROUP BY selected_room`)
	if err != nil {
		return nil, fmt.Errorf("query room counts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close room count rows", "error", closeErr)
		}
	}()
	for rows.Next() {
		var room string
		var n int
		if err := rows.Scan(&room, &n); err != nil {
			return nil, fmt.Errorf("scan room count: %w", err)
		}
		st.UsersByRoom[room] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relay_mappings`).Scan(&st.RelayMappings); err != nil {
		return nil, fmt.Errorf("count relay mappings: %w", err)
	}

	wm, err := s.GetResetWatermark(ctx)
	if err != nil {
		return nil, err
	}
	st.LastResetDate = wm.LastResetDate

	pending, err := s.GetPendingBroadcast(ctx)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		st.BroadcastStage = pending.Stage.String()
	}

	return st, nil
}

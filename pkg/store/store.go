// Package store keeps local snapshots of feed lists in SQLite so a loader can
// show the last known items before its first network refresh.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/giffun-client/pkg/feed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrEmptyList is returned for a blank list name.
var ErrEmptyList = errors.New("list name is required")

var storeOps = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "giffun_store_operations_total",
		Help: "Snapshot store operations by operation and result",
	},
	[]string{"op", "result"},
)

// Store is a SQLite database holding list snapshots.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open creates or opens the snapshot database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A second connection to :memory: would see a different database.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		path:   path,
		logger: log.With().Str("component", "feed-store").Str("path", path).Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema() error {
	schema := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS list_items (
		list TEXT NOT NULL,
		position INTEGER NOT NULL,
		item_id INTEGER NOT NULL,
		body TEXT NOT NULL,
		saved_at DATETIME NOT NULL,
		PRIMARY KEY (list, position),
		UNIQUE (list, item_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Lists returns the names of all stored lists.
func (s *Store) Lists(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT list FROM list_items ORDER BY list`)
	if err != nil {
		return nil, fmt.Errorf("query lists: %w", err)
	}
	defer rows.Close()

	var lists []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, name)
	}
	return lists, rows.Err()
}

// Clear drops a stored list.
func (s *Store) Clear(ctx context.Context, list string) error {
	if list == "" {
		return ErrEmptyList
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM list_items WHERE list = ?`, list)
	record("clear", err)
	if err != nil {
		return fmt.Errorf("clear %s: %w", list, err)
	}
	return nil
}

// Snapshot stores lists of T. It implements feed.Snapshot.
type Snapshot[T feed.Item] struct {
	store *Store
}

// For returns the snapshot view of s for item type T.
func For[T feed.Item](s *Store) *Snapshot[T] {
	return &Snapshot[T]{store: s}
}

// Replace swaps the stored list for items.
func (sn *Snapshot[T]) Replace(ctx context.Context, list string, items []T) error {
	err := sn.write(ctx, list, items, true)
	record("replace", err)
	return err
}

// Append adds items to the end of the stored list. Items already stored
// under the same id are skipped.
func (sn *Snapshot[T]) Append(ctx context.Context, list string, items []T) error {
	err := sn.write(ctx, list, items, false)
	record("append", err)
	return err
}

// Load returns the stored list in order. A list never stored is empty.
func (sn *Snapshot[T]) Load(ctx context.Context, list string) ([]T, error) {
	if list == "" {
		return nil, ErrEmptyList
	}

	rows, err := sn.store.db.QueryContext(ctx,
		`SELECT body FROM list_items WHERE list = ? ORDER BY position`, list)
	if err != nil {
		record("load", err)
		return nil, fmt.Errorf("load %s: %w", list, err)
	}
	defer rows.Close()

	var items []T
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", list, err)
		}
		var item T
		if err := json.Unmarshal(body, &item); err != nil {
			return nil, fmt.Errorf("decode %s item: %w", list, err)
		}
		items = append(items, item)
	}
	err = rows.Err()
	record("load", err)
	return items, err
}

func (sn *Snapshot[T]) write(ctx context.Context, list string, items []T, replace bool) error {
	if list == "" {
		return ErrEmptyList
	}

	tx, err := sn.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	next := 0
	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM list_items WHERE list = ?`, list); err != nil {
			return fmt.Errorf("clear %s: %w", list, err)
		}
	} else {
		row := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM list_items WHERE list = ?`, list)
		if err := row.Scan(&next); err != nil {
			return fmt.Errorf("next position %s: %w", list, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO list_items (list, position, item_id, body, saved_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, item := range items {
		body, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode item %d: %w", item.ItemID(), err)
		}
		if _, err := stmt.ExecContext(ctx, list, next, item.ItemID(), body, now); err != nil {
			return fmt.Errorf("insert item %d: %w", item.ItemID(), err)
		}
		next++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	sn.store.logger.Debug().
		Str("list", list).
		Int("items", len(items)).
		Bool("replace", replace).
		Msg("Stored list snapshot")
	return nil
}

func record(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOps.WithLabelValues(op, result).Inc()
}

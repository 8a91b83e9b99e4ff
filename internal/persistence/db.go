// Package persistence provides SQLite-based world state storage.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/mini-realm/internal/engine"
	"github.com/talgya/mini-realm/internal/realm"
)

// DB wraps a SQLite connection for world state persistence.
type DB struct {
	conn *sqlx.DB
}

var _ engine.Store = (*DB)(nil)

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(schema)
	return err
}

// InTx runs fn inside a write transaction, retrying on transient SQLite
// errors. fn may run more than once.
func (db *DB) InTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	return retryOp(defaultRetryConfig, func() error {
		tx, err := db.conn.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		if err := fn(&repoTx{tx: tx}); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. A missing key yields realm.ErrNotFound.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, notFound(err)
}

// WorldSeed returns the persisted terrain seed, storing fallback on first use
// so a database keeps its terrain across restarts.
func (db *DB) WorldSeed(fallback int64) (int64, error) {
	v, err := db.GetMeta("world_seed")
	if errors.Is(err, realm.ErrNotFound) {
		if err := db.SaveMeta("world_seed", strconv.FormatInt(fallback, 10)); err != nil {
			return 0, fmt.Errorf("save world seed: %w", err)
		}
		return fallback, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return realm.ErrNotFound
	}
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS players (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	is_npc INTEGER NOT NULL DEFAULT 0,
	level INTEGER NOT NULL DEFAULT 1 CHECK (level >= 1),
	experience INTEGER NOT NULL DEFAULT 0 CHECK (experience >= 0),
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settlement_types (
	name TEXT PRIMARY KEY,
	food_rate REAL NOT NULL DEFAULT 0,
	wood_rate REAL NOT NULL DEFAULT 0,
	stone_rate REAL NOT NULL DEFAULT 0,
	silver_rate REAL NOT NULL DEFAULT 0,
	gold_rate REAL NOT NULL DEFAULT 0,
	food_cap INTEGER,
	wood_cap INTEGER,
	stone_cap INTEGER,
	silver_cap INTEGER,
	gold_cap INTEGER,
	max_population INTEGER NOT NULL DEFAULT 100,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS settlements (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	player_id INTEGER NOT NULL REFERENCES players(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	x INTEGER NOT NULL,
	y INTEGER NOT NULL,
	settlement_type TEXT NOT NULL DEFAULT 'village' REFERENCES settlement_types(name),
	food INTEGER NOT NULL DEFAULT 0 CHECK (food >= 0),
	wood INTEGER NOT NULL DEFAULT 0 CHECK (wood >= 0),
	stone INTEGER NOT NULL DEFAULT 0 CHECK (stone >= 0),
	silver INTEGER NOT NULL DEFAULT 0 CHECK (silver >= 0),
	gold INTEGER NOT NULL DEFAULT 0 CHECK (gold >= 0),
	food_carry REAL NOT NULL DEFAULT 0,
	wood_carry REAL NOT NULL DEFAULT 0,
	stone_carry REAL NOT NULL DEFAULT 0,
	silver_carry REAL NOT NULL DEFAULT 0,
	gold_carry REAL NOT NULL DEFAULT 0,
	last_tick INTEGER,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settlement_buildings (
	settlement_id INTEGER NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
	building TEXT NOT NULL,
	level INTEGER NOT NULL DEFAULT 0 CHECK (level >= 0),
	PRIMARY KEY (settlement_id, building)
);

CREATE TABLE IF NOT EXISTS unit_types (
	unit_type TEXT PRIMARY KEY,
	attack INTEGER NOT NULL,
	defense INTEGER NOT NULL,
	health INTEGER NOT NULL,
	cost_wood INTEGER NOT NULL,
	cost_silver INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS player_units (
	player_id INTEGER NOT NULL REFERENCES players(id) ON DELETE CASCADE,
	unit_type TEXT NOT NULL REFERENCES unit_types(unit_type),
	quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
	PRIMARY KEY (player_id, unit_type)
);

CREATE TABLE IF NOT EXISTS settlement_garrisons (
	settlement_id INTEGER NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
	unit_type TEXT NOT NULL REFERENCES unit_types(unit_type),
	quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
	PRIMARY KEY (settlement_id, unit_type)
);

CREATE TABLE IF NOT EXISTS action_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	player_id INTEGER NOT NULL REFERENCES players(id) ON DELETE CASCADE,
	settlement_id INTEGER REFERENCES settlements(id) ON DELETE SET NULL,
	target_settlement_id INTEGER REFERENCES settlements(id) ON DELETE SET NULL,
	action_type TEXT NOT NULL CHECK (action_type IN ('build', 'train', 'attack')),
	payload TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	end_time INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed')),
	created_at INTEGER NOT NULL,
	completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS battle_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL UNIQUE,
	action_id INTEGER NOT NULL REFERENCES action_queue(id) ON DELETE CASCADE,
	attacker_settlement_id INTEGER REFERENCES settlements(id) ON DELETE SET NULL,
	defender_settlement_id INTEGER REFERENCES settlements(id) ON DELETE SET NULL,
	result_json TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS research_nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sector TEXT NOT NULL,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	required_player_level INTEGER NOT NULL DEFAULT 1,
	cost_food INTEGER NOT NULL DEFAULT 0,
	cost_wood INTEGER NOT NULL DEFAULT 0,
	cost_stone INTEGER NOT NULL DEFAULT 0,
	cost_silver INTEGER NOT NULL DEFAULT 0,
	cost_gold INTEGER NOT NULL DEFAULT 0,
	research_seconds INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS research_effects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	node_id INTEGER NOT NULL REFERENCES research_nodes(id) ON DELETE CASCADE,
	effect_type TEXT NOT NULL,
	target TEXT NOT NULL,
	value REAL NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS player_research (
	player_id INTEGER NOT NULL REFERENCES players(id) ON DELETE CASCADE,
	node_id INTEGER NOT NULL REFERENCES research_nodes(id) ON DELETE CASCADE,
	unlocked_at INTEGER NOT NULL,
	PRIMARY KEY (player_id, node_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	taken_at INTEGER NOT NULL,
	settlements INTEGER NOT NULL,
	raw_size INTEGER NOT NULL,
	blob BLOB NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS world_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settlements_player ON settlements(player_id);
CREATE INDEX IF NOT EXISTS idx_action_queue_due ON action_queue(status, end_time, id);
CREATE INDEX IF NOT EXISTS idx_battle_reports_action ON battle_reports(action_id);
CREATE INDEX IF NOT EXISTS idx_research_effects_node ON research_effects(node_id);
CREATE INDEX IF NOT EXISTS idx_player_research_player ON player_research(player_id);
`

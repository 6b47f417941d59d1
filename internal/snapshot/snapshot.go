// Package snapshot provides a local SQLite cache of the entity store and
// command records, grounded on the teacher's internal/infra/sqlite (WAL
// mode, single-writer pool, idempotent migrations). It is explicitly
// non-authoritative: the retained MQTT messages are the system of record
// (spec §4.D, §4.F). The daemon loads the cached entities into the entity
// store at startup, and the retained-message replay then updates them as it
// arrives. The workflow engine does not read the cache, and nothing in the
// daemon writes rows to it.
package snapshot

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/thin-edge/tedge-core/internal/domain"
)

// Cache wraps a SQLite connection holding the last-known entity and
// command snapshots.
type Cache struct {
	db *sql.DB
}

// Open creates or opens the cache database at dir/snapshot.db.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "snapshot.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Cache{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return c, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func (c *Cache) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			topic_id    TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			parent      TEXT,
			external_id TEXT NOT NULL DEFAULT '',
			twin        TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_parent ON entities(parent)`,
		`CREATE TABLE IF NOT EXISTS commands (
			topic_id   TEXT NOT NULL,
			operation  TEXT NOT NULL,
			command_id TEXT NOT NULL,
			status     TEXT NOT NULL,
			record     TEXT NOT NULL,
			PRIMARY KEY (topic_id, operation, command_id)
		)`,
	}
	for _, m := range migrations {
		if _, err := c.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// UpsertEntity writes or replaces one entity's snapshot row.
func (c *Cache) UpsertEntity(e domain.Entity) error {
	var parent sql.NullString
	if e.ParentTopicID != nil {
		parent = sql.NullString{String: e.ParentTopicID.String(), Valid: true}
	}
	twin, err := json.Marshal(e.Twin)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(
		`INSERT INTO entities (topic_id, entity_type, parent, external_id, twin)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(topic_id) DO UPDATE SET
			entity_type=excluded.entity_type,
			parent=excluded.parent,
			external_id=excluded.external_id,
			twin=excluded.twin`,
		e.TopicID.String(), string(e.EntityType), parent, e.ExternalID, string(twin),
	)
	return err
}

// DeleteEntity removes one entity's snapshot row.
func (c *Cache) DeleteEntity(id domain.TopicID) error {
	_, err := c.db.Exec(`DELETE FROM entities WHERE topic_id = ?`, id.String())
	return err
}

// LoadEntities returns every cached entity, to be reconciled against the
// retained-message replay on startup.
func (c *Cache) LoadEntities() ([]domain.Entity, error) {
	rows, err := c.db.Query(`SELECT topic_id, entity_type, parent, external_id, twin FROM entities`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Entity
	for rows.Next() {
		var topicID, entityType, externalID, twinJSON string
		var parent sql.NullString
		if err := rows.Scan(&topicID, &entityType, &parent, &externalID, &twinJSON); err != nil {
			return nil, err
		}
		id, err := domain.ParseTopicID(topicID)
		if err != nil {
			return nil, err
		}
		e := domain.Entity{TopicID: id, EntityType: domain.EntityType(entityType), ExternalID: externalID}
		if parent.Valid {
			p, err := domain.ParseTopicID(parent.String)
			if err != nil {
				return nil, err
			}
			e.ParentTopicID = &p
		}
		if err := json.Unmarshal([]byte(twinJSON), &e.Twin); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertCommand writes or replaces one command's snapshot row.
func (c *Cache) UpsertCommand(r domain.CommandRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(
		`INSERT INTO commands (topic_id, operation, command_id, status, record)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(topic_id, operation, command_id) DO UPDATE SET
			status=excluded.status,
			record=excluded.record`,
		r.TopicID.String(), r.Operation, r.ID, string(r.Status), string(data),
	)
	return err
}

// LoadCommands returns every cached command record. The workflow engine
// does not call it; command resumption after a restart comes from the
// retained command messages.
func (c *Cache) LoadCommands() ([]domain.CommandRecord, error) {
	rows, err := c.db.Query(`SELECT record FROM commands`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CommandRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r domain.CommandRecord
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

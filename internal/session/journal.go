package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/farrosalferro/fashion-recommender/internal/imageref"
)

// SQLiteJournal persists sessions in SQLite so conversations survive
// restarts.
type SQLiteJournal struct {
	db *sql.DB
}

// NewJournal creates a journal on db, running migrations on first use.
func NewJournal(db *sql.DB) (*SQLiteJournal, error) {
	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		return nil, fmt.Errorf("migrate session journal: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id             TEXT PRIMARY KEY,
			created_at     TEXT NOT NULL,
			deleted_at     TEXT,
			model_image_id TEXT
		);

		CREATE TABLE IF NOT EXISTS session_images (
			session_id TEXT NOT NULL,
			image_id   TEXT NOT NULL,
			path       TEXT NOT NULL,
			bbox       TEXT,
			PRIMARY KEY (session_id, image_id)
		);

		CREATE TABLE IF NOT EXISTS session_messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			images     TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id, id);
	`)
	return err
}

// CreateSession records a new session.
func (j *SQLiteJournal) CreateSession(id string, at time.Time) error {
	_, err := j.db.Exec(
		`INSERT OR IGNORE INTO sessions (id, created_at) VALUES (?, ?)`,
		id, at.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// PutImage records an image and, when isModel is set, the model photo.
func (j *SQLiteJournal) PutImage(sessionID, imageID string, src imageref.Source, isModel bool) error {
	var bbox sql.NullString
	if src.BBox != nil {
		b, err := json.Marshal(src.BBox)
		if err != nil {
			return fmt.Errorf("marshal bbox: %w", err)
		}
		bbox = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO session_images (session_id, image_id, path, bbox) VALUES (?, ?, ?, ?)`,
		sessionID, imageID, src.Path, bbox,
	); err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	if isModel {
		if _, err := tx.Exec(
			`UPDATE sessions SET model_image_id = ? WHERE id = ?`,
			imageID, sessionID,
		); err != nil {
			return fmt.Errorf("set model image: %w", err)
		}
	}
	return tx.Commit()
}

// AppendTurn records a user and assistant message pair in one
// transaction.
func (j *SQLiteJournal) AppendTurn(sessionID string, user, assistant Message, at time.Time) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := at.UTC().Format(time.RFC3339Nano)
	for _, m := range []Message{user, assistant} {
		var images sql.NullString
		if len(m.Images) > 0 {
			b, err := json.Marshal(m.Images)
			if err != nil {
				return fmt.Errorf("marshal images: %w", err)
			}
			images = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := tx.Exec(
			`INSERT INTO session_messages (session_id, role, content, images, created_at) VALUES (?, ?, ?, ?, ?)`,
			sessionID, string(m.Role), m.Content, images, ts,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteSession drops a session's images and messages and keeps a
// tombstone row so the id is never reused.
func (j *SQLiteJournal) DeleteSession(id string, at time.Time) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM session_messages WHERE session_id = ?`, []any{id}},
		{`DELETE FROM session_images WHERE session_id = ?`, []any{id}},
		{`INSERT OR IGNORE INTO sessions (id, created_at) VALUES (?, ?)`, []any{id, at.UTC().Format(time.RFC3339Nano)}},
		{`UPDATE sessions SET deleted_at = ?, model_image_id = NULL WHERE id = ?`, []any{at.UTC().Format(time.RFC3339Nano), id}},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.query, st.args...); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	return tx.Commit()
}

// Load reads every persisted session, including tombstones.
func (j *SQLiteJournal) Load() ([]Record, error) {
	rows, err := j.db.Query(`SELECT id, deleted_at IS NOT NULL, COALESCE(model_image_id, '') FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	var records []Record
	index := make(map[string]int)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Deleted, &r.ModelImageID); err != nil {
			rows.Close()
			return nil, err
		}
		r.Images = make(map[string]imageref.Source)
		index[r.ID] = len(records)
		records = append(records, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := j.loadImages(records, index); err != nil {
		return nil, err
	}
	if err := j.loadMessages(records, index); err != nil {
		return nil, err
	}
	return records, nil
}

func (j *SQLiteJournal) loadImages(records []Record, index map[string]int) error {
	rows, err := j.db.Query(`SELECT session_id, image_id, path, bbox FROM session_images`)
	if err != nil {
		return fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sessionID, imageID, path string
		var bbox sql.NullString
		if err := rows.Scan(&sessionID, &imageID, &path, &bbox); err != nil {
			return err
		}
		i, ok := index[sessionID]
		if !ok {
			continue
		}
		src := imageref.Source{Path: path}
		if bbox.Valid {
			var b imageref.BBox
			if err := json.Unmarshal([]byte(bbox.String), &b); err != nil {
				return fmt.Errorf("image %s: decode bbox: %w", imageID, err)
			}
			src.BBox = &b
		}
		records[i].Images[imageID] = src
	}
	return rows.Err()
}

func (j *SQLiteJournal) loadMessages(records []Record, index map[string]int) error {
	rows, err := j.db.Query(`SELECT session_id, role, content, images FROM session_messages ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sessionID, role, content string
		var images sql.NullString
		if err := rows.Scan(&sessionID, &role, &content, &images); err != nil {
			return err
		}
		i, ok := index[sessionID]
		if !ok {
			continue
		}
		m := Message{Role: Role(role), Content: content}
		if images.Valid {
			if err := json.Unmarshal([]byte(images.String), &m.Images); err != nil {
				return fmt.Errorf("session %s: decode message images: %w", sessionID, err)
			}
		}
		records[i].History = append(records[i].History, m)
	}
	return rows.Err()
}

// Package store persists enrolled face templates in a local SQLite
// database. One row per template; embeddings are stored as a flat
// little-endian float32 blob since sqlite has no native vector type.
package store

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/google/uuid"

	"github.com/sovren-software/visage/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS face_templates (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL,
	label         TEXT NOT NULL,
	embedding     BLOB NOT NULL,
	model_version TEXT NOT NULL,
	quality_score REAL NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_face_templates_username ON face_templates(username);
`

// Store is a handle on the SQLite-backed template database.
type Store struct {
	db *sql.DB
}

// Open creates the schema if absent and returns a ready Store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Insert assigns a new UUID to tmpl, stamps CreatedAt, persists it,
// and returns the stored copy.
func (s *Store) Insert(tmpl types.FaceTemplate) (types.FaceTemplate, error) {
	tmpl.ID = uuid.NewString()
	tmpl.CreatedAt = time.Now().UTC()

	blob, err := encodeEmbedding(tmpl.Embedding.Values)
	if err != nil {
		return types.FaceTemplate{}, err
	}

	_, err = s.db.Exec(
		`INSERT INTO face_templates (id, username, label, embedding, model_version, quality_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tmpl.ID, tmpl.Username, tmpl.Label, blob, tmpl.Embedding.ModelVersion, tmpl.QualityScore, tmpl.CreatedAt.Unix(),
	)
	if err != nil {
		return types.FaceTemplate{}, fmt.Errorf("store: insert: %w", err)
	}
	return tmpl, nil
}

// GalleryFor returns every template enrolled for username, copied by
// value so inference never runs under the database's lock.
func (s *Store) GalleryFor(username string) (types.Gallery, error) {
	rows, err := s.db.Query(
		`SELECT id, username, label, embedding, model_version, quality_score, created_at
		 FROM face_templates WHERE username = ?`, username,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query gallery: %w", err)
	}
	defer rows.Close()

	var gallery types.Gallery
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		gallery = append(gallery, tmpl)
	}
	return gallery, rows.Err()
}

// List returns every enrolled template across all usernames.
func (s *Store) List() ([]types.FaceTemplate, error) {
	rows, err := s.db.Query(
		`SELECT id, username, label, embedding, model_version, quality_score, created_at
		 FROM face_templates ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []types.FaceTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tmpl)
	}
	return out, rows.Err()
}

// Remove deletes the template with the given id, provided it belongs
// to username. Returns false if no matching row existed.
func (s *Store) Remove(username, id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM face_templates WHERE id = ? AND username = ?`, id, username)
	if err != nil {
		return false, fmt.Errorf("store: remove: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: remove: %w", err)
	}
	return n > 0, nil
}

// CountAll reports the total number of enrolled templates.
func (s *Store) CountAll() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM face_templates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

func scanTemplate(rows *sql.Rows) (types.FaceTemplate, error) {
	var tmpl types.FaceTemplate
	var blob []byte
	var modelVersion string
	var createdAtUnix int64

	if err := rows.Scan(&tmpl.ID, &tmpl.Username, &tmpl.Label, &blob, &modelVersion, &tmpl.QualityScore, &createdAtUnix); err != nil {
		return types.FaceTemplate{}, fmt.Errorf("store: scan: %w", err)
	}

	values, err := decodeEmbedding(blob)
	if err != nil {
		return types.FaceTemplate{}, err
	}
	tmpl.Embedding = types.Embedding{Values: values, ModelVersion: modelVersion}
	tmpl.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	return tmpl, nil
}

func encodeEmbedding(values []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	for _, v := range values {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("store: encode embedding: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func decodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("store: embedding blob length %d not a multiple of 4", len(blob))
	}
	values := make([]float32, len(blob)/4)
	r := bytes.NewReader(blob)
	for i := range values {
		if err := binary.Read(r, binary.LittleEndian, &values[i]); err != nil {
			return nil, fmt.Errorf("store: decode embedding: %w", err)
		}
	}
	return values, nil
}

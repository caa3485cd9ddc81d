package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNoDocument = errors.New("no document stored")

type StoredDocument struct {
	Body      string
	Revision  int
	UpdatedAt time.Time
}

// GetDocument retrieves the stored document row.
func GetDocument(db *sql.DB) (StoredDocument, error) {
	var doc StoredDocument
	var updatedAt string
	err := db.QueryRow(`SELECT body, revision, updated_at FROM documents WHERE id = 1`).
		Scan(&doc.Body, &doc.Revision, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return doc, ErrNoDocument
	}
	if err != nil {
		return doc, fmt.Errorf("failed to get document: %w", err)
	}
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return doc, nil
}

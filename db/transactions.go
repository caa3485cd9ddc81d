package db

import (
	"database/sql"
	"fmt"
	"time"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// SaveDocumentWithTx replaces the stored document and bumps its revision.
func SaveDocumentWithTx(tx *sql.Tx, body string, at time.Time) error {
	_, err := tx.Exec(`INSERT INTO documents (id, body, revision, updated_at) VALUES (1, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, revision = documents.revision + 1, updated_at = excluded.updated_at`,
		body, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func SaveDocument(db *sql.DB, body string, at time.Time) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if err := SaveDocumentWithTx(tx, body, at); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}

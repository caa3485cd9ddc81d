package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/thatsimonsguy/plc-dashboard/internal/configstore"
)

// Backend keeps the configuration document as a single row in SQLite.
type Backend struct {
	db   *sql.DB
	path string
}

func NewBackend(path string) (*Backend, error) {
	conn, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &Backend{db: conn, path: path}, nil
}

func (b *Backend) Read() ([]byte, error) {
	doc, err := GetDocument(b.db)
	if errors.Is(err, ErrNoDocument) {
		return nil, configstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc.Body), nil
}

func (b *Backend) Write(data []byte) error {
	return SaveDocument(b.db, string(data), now())
}

func (b *Backend) Location() string {
	return "sqlite:" + b.path
}

func (b *Backend) Close() error {
	return b.db.Close()
}

var now = time.Now

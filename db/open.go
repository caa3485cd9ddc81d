package db

import (
	"fmt"

	"github.com/thatsimonsguy/plc-dashboard/internal/configstore"
)

// OpenConfigBackend returns the document backend of the given kind ("file"
// or "sqlite") and a function releasing it.
func OpenConfigBackend(kind, path string) (configstore.Backend, func() error, error) {
	switch kind {
	case "file":
		return configstore.NewFileBackend(path), func() error { return nil }, nil
	case "sqlite":
		b, err := NewBackend(path)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", kind)
	}
}

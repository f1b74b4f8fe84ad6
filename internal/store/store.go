// Package store provides the session.Store backends.
package store

import (
	"fmt"

	"github.com/cortexuvula/massagesync/internal/session"
)

// Open returns the backend named by driver ("memory" or "sqlite").
func Open(driver, path string) (session.Store, error) {
	switch driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

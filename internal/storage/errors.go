package storage

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/judacas/AutoDJ/pkg/models"
)

// sqlite reports lock contention only through its message text.
var busyMessages = []string{"database is locked", "database table is locked", "SQLITE_BUSY", "SQLITE_LOCKED"}

// transient marks failures a later attempt can get past with
// models.ErrTransient so the worker pool retries them.
func transient(err error) error {
	if err == nil || errors.Is(err, models.ErrTransient) || !isTransient(err) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrTransient, err)
}

func isTransient(err error) bool {
	if errors.Is(err, badger.ErrConflict) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	msg := err.Error()
	for _, m := range busyMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

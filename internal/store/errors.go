package store

import (
	"errors"
	"fmt"

	"github.com/ncruces/go-sqlite3"
)

// SchemaViolationError reports a uniqueness or referential-integrity breach
// during a write. The enclosing transaction is rolled back, leaving the
// store in its prior state.
type SchemaViolationError struct {
	Table string
	Err   error
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation on %s: %v", e.Table, e.Err)
}

func (e *SchemaViolationError) Unwrap() error { return e.Err }

// classifyWriteErr wraps SQLite constraint failures as SchemaViolationError
// and passes every other error through.
func classifyWriteErr(table string, err error) error {
	var serr *sqlite3.Error
	if errors.As(err, &serr) && serr.Code() == sqlite3.CONSTRAINT {
		return &SchemaViolationError{Table: table, Err: err}
	}
	return fmt.Errorf("write %s: %w", table, err)
}

// Package sqlite stores events, locations, their auxiliary rows and leases
// in a SQLite database.
package sqlite

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"

	"icsimport/internal/clock"
	"icsimport/internal/model"
)

var (
	_ model.Repository = (*Repo)(nil)
	_ model.AuxStore   = (*Repo)(nil)
	_ model.Lease      = (*Repo)(nil)
)

// sqliteConstraintUnique is SQLITE_CONSTRAINT_UNIQUE.
const sqliteConstraintUnique = 2067

var ErrConflict = errors.New("resource conflict")

type Repo struct {
	db    *sqlx.DB
	clock clock.Clock
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db, clock: clock.System{}}
}

// WithClock returns a copy of r reading lease time from c.
func (r Repo) WithClock(c clock.Clock) Repo {
	r.clock = c
	return r
}

func (r Repo) now() time.Time {
	return r.clock.Now()
}

// conflict maps unique constraint violations onto ErrConflict.
func conflict(err error, what string) error {
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && sqliteErr.Code() == sqliteConstraintUnique {
		return fmt.Errorf("%s already exists: %w", what, ErrConflict)
	}
	return err
}

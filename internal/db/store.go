package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors shared by the store methods. Callers detect them with
// errors.Is and map them onto the HTTP surface.
var (
	// ErrNotFound is returned when a row does not exist or is outside the
	// caller's visible scope.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert collides with a unique index.
	ErrDuplicate = errors.New("already exists")

	// ErrBackupAlreadyRunning is returned when a running backup log already
	// exists for the schedule. The partial unique index on backup_logs is
	// the cluster-wide lock; this error means another contender won.
	ErrBackupAlreadyRunning = errors.New("backup already running for this schedule")
)

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

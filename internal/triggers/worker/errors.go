package worker

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/domain/content"
)

var (
	// ErrNotConverged is returned by Drain when the step budget runs out.
	ErrNotConverged = errors.New("trigger cascade did not converge")
	// ErrUnknownKind rejects events of a kind no source produces.
	ErrUnknownKind = errors.New("unknown event kind")
)

type Class int

const (
	Retryable Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "retryable"
}

// PermanentError marks a failure that redelivery cannot fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }

func errFromRecover(v any) error { return &panicError{Val: v} }

// postgres SQLSTATEs worth another attempt: serialization_failure, deadlock_detected,
// too_many_connections, admin_shutdown.
var retryablePgCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"53300": true,
	"57P01": true,
}

// Classify decides whether a failed delivery should be retried. Unknown errors
// are retryable; handlers are idempotent.
func Classify(err error) Class {
	if err == nil {
		return Retryable
	}
	var perm *PermanentError
	var pe *panicError
	switch {
	case errors.As(err, &perm), errors.As(err, &pe):
		return Permanent
	case errors.Is(err, docstore.ErrInvalidPath),
		errors.Is(err, content.ErrInvalidDocument),
		errors.Is(err, ErrUnknownKind):
		return Permanent
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, docstore.ErrConflict):
		return Retryable
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if retryablePgCodes[pgErr.Code] {
			return Retryable
		}
		// integrity and syntax classes do not heal on retry
		if len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "22" || pgErr.Code[:2] == "23" || pgErr.Code[:2] == "42") {
			return Permanent
		}
		return Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}
	return Retryable
}

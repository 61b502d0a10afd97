// Package errs defines the stable error kinds shared by every memcore
// backend. Callers branch on kinds with errors.Is; the concrete message
// travels alongside via fmt wrapping.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel kinds. These are stable across the log-structured and
// relational backends: the same failure surfaces as the same kind no
// matter which backend produced it.
var (
	// ErrValidation marks malformed input. Never retried.
	ErrValidation = errors.New("validation")

	// ErrConflict marks a supersession attempted on a non-current row.
	ErrConflict = errors.New("conflict")

	// ErrCorruption marks a journal record that failed CRC or decode.
	// It is reported through the integrity report, never raised to the
	// writer.
	ErrCorruption = errors.New("corruption")

	// ErrIntegrity marks a snapshot replay whose atom set does not
	// reproduce the snapshot id. Fatal for that snapshot.
	ErrIntegrity = errors.New("integrity")

	// ErrTimeout marks a deadline exceeded during query, embedding, or
	// vector lookup.
	ErrTimeout = errors.New("timeout")

	// ErrDependency marks an embedding provider or vector store
	// failure. Retried with backoff before surfacing.
	ErrDependency = errors.New("dependency")

	// ErrGateFail marks a critical action whose confidence fell below
	// the hard floor. The action is refused outright and no escalation
	// is created.
	ErrGateFail = errors.New("gate fail")
)

// Validationf wraps a formatted message as a Validation error.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// Conflictf wraps a formatted message as a Conflict error.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// Corruptionf wraps a formatted message as a Corruption error.
func Corruptionf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrCorruption)...)
}

// Integrityf wraps a formatted message as an Integrity error.
func Integrityf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrIntegrity)...)
}

// Timeoutf wraps a formatted message as a Timeout error.
func Timeoutf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrTimeout)...)
}

// Dependencyf wraps a formatted message as a Dependency error.
func Dependencyf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrDependency)...)
}

// GateFailf wraps a formatted message as a GateFail error.
func GateFailf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrGateFail)...)
}

// IsValidation reports whether err is a Validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsCorruption reports whether err is a Corruption error.
func IsCorruption(err error) bool { return errors.Is(err, ErrCorruption) }

// IsIntegrity reports whether err is an Integrity error.
func IsIntegrity(err error) bool { return errors.Is(err, ErrIntegrity) }

// IsTimeout reports whether err is a Timeout error.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsDependency reports whether err is a Dependency error.
func IsDependency(err error) bool { return errors.Is(err, ErrDependency) }

// IsGateFail reports whether err is a GateFail error.
func IsGateFail(err error) bool { return errors.Is(err, ErrGateFail) }

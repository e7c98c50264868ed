package types

import (
	"errors"
	"fmt"
)

// Error families. Every error returned by expflow wraps exactly one of these,
// so callers can branch on the family with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrExists       = errors.New("already exists")
	ErrNotFound     = errors.New("not found")
	ErrTypeMismatch = errors.New("declared type mismatch")
)

// Validation errors.
var (
	ErrInvalidID         = fmt.Errorf("%w: invalid id", ErrValidation)
	ErrInvalidStatus     = fmt.Errorf("%w: unknown status", ErrValidation)
	ErrIllegalTransition = fmt.Errorf("%w: illegal status transition", ErrValidation)
	ErrNotATrial         = fmt.Errorf("%w: only trials can be added to an experiment", ErrValidation)
	ErrNoDefaultPath     = fmt.Errorf("%w: trials have no default path", ErrValidation)
	ErrIndexOutOfRange   = fmt.Errorf("%w: trial index out of range", ErrValidation)

	// ErrExperimentOver is returned when an experiment that is finished,
	// skipped, or timed out is mutated or iterated.
	ErrExperimentOver = fmt.Errorf("%w: experiment is over", ErrIllegalTransition)
)

// Identity collisions at creation time.
var (
	ErrParticipantExists = fmt.Errorf("participant %w", ErrExists)
	ErrExperimentExists  = fmt.Errorf("experiment %w", ErrExists)
)

// Missing records.
var (
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)
	ErrExperimentNotFound  = fmt.Errorf("experiment %w", ErrNotFound)
)

// State errors that are not failures of the caller's input.
var (
	ErrDurationUnavailable = errors.New("duration unavailable before finishing")
	ErrNoCurrentTrial      = errors.New("no trial at cursor")
	ErrRecordUnbound       = errors.New("record is not bound to a store")
	ErrStoreClosed         = errors.New("store is closed")

	// ErrNoMoreTrials signals the end of an experiment's trial sequence.
	ErrNoMoreTrials = errors.New("no more trials")
)

package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrInvalid                 = errors.New("invalid")
	ErrConflict                = errors.New("conflict")
	ErrTooMany                 = errors.New("too many requests")
	ErrTokenExpired            = errors.New("share token expired")
	ErrTokenExhausted          = errors.New("share token exhausted")
	ErrTokenRevoked            = errors.New("share token revoked")
	ErrChunkGap                = errors.New("chunk ordinal gap")
	ErrSizeLimitExceeded       = errors.New("chunk size limit exceeded")
	ErrBackingStoreUnavailable = errors.New("backing store unavailable")
	ErrNotApplied              = errors.New("operation not applied")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackingStoreUnavailable)
}

// Unavailable marks err as a transient backing store failure.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrBackingStoreUnavailable) {
		return err
	}
	return &unavailableError{cause: err}
}

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return ErrBackingStoreUnavailable.Error() + ": " + e.cause.Error()
}

func (e *unavailableError) Is(target error) bool {
	return target == ErrBackingStoreUnavailable
}

func (e *unavailableError) Unwrap() error {
	return e.cause
}

// NotApplied marks err as a failure known to have left the backing store
// unchanged, so even a non-idempotent operation can be retried.
func NotApplied(err error) error {
	if err == nil || errors.Is(err, ErrNotApplied) {
		return err
	}
	return &notAppliedError{cause: err}
}

func IsNotApplied(err error) bool {
	return errors.Is(err, ErrNotApplied)
}

type notAppliedError struct {
	cause error
}

func (e *notAppliedError) Error() string {
	return e.cause.Error()
}

func (e *notAppliedError) Is(target error) bool {
	return target == ErrNotApplied
}

func (e *notAppliedError) Unwrap() error {
	return e.cause
}

// ChunkGapError reports a chunk set that does not cover [0, Expected) exactly once.
type ChunkGapError struct {
	DocumentID string
	Expected   int
	Observed   []int
	Missing    []int
	Duplicates []int
	OutOfRange []int
}

func (e *ChunkGapError) Error() string {
	parts := []string{fmt.Sprintf("document %s expects %d chunks", e.DocumentID, e.Expected)}
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %v", e.Missing))
	}
	if len(e.Duplicates) > 0 {
		parts = append(parts, fmt.Sprintf("duplicated %v", e.Duplicates))
	}
	if len(e.OutOfRange) > 0 {
		parts = append(parts, fmt.Sprintf("out of range %v", e.OutOfRange))
	}
	parts = append(parts, fmt.Sprintf("observed %v", e.Observed))
	return ErrChunkGap.Error() + ": " + strings.Join(parts, ", ")
}

func (e *ChunkGapError) Is(target error) bool {
	return target == ErrChunkGap
}

// NewChunkGapError builds the diagnostic for the given ordinals; it returns nil when
// the ordinals are exactly 0..expected-1 without repetition.
func NewChunkGapError(documentID string, expected int, observed []int) *ChunkGapError {
	seen := make(map[int]int, len(observed))
	var outOfRange []int
	for _, ordinal := range observed {
		if ordinal < 0 || ordinal >= expected {
			outOfRange = append(outOfRange, ordinal)
			continue
		}
		seen[ordinal]++
	}
	var missing, duplicates []int
	for i := 0; i < expected; i++ {
		switch n := seen[i]; {
		case n == 0:
			missing = append(missing, i)
		case n > 1:
			duplicates = append(duplicates, i)
		}
	}
	if len(missing) == 0 && len(duplicates) == 0 && len(outOfRange) == 0 {
		return nil
	}
	sorted := append([]int(nil), observed...)
	sort.Ints(sorted)
	return &ChunkGapError{
		DocumentID: documentID,
		Expected:   expected,
		Observed:   sorted,
		Missing:    missing,
		Duplicates: duplicates,
		OutOfRange: outOfRange,
	}
}

// PartialWriteError means some chunk sub-batches were committed before a later one failed.
type PartialWriteError struct {
	DocumentID string
	Committed  int
	Total      int
	Cause      error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial chunk write for document %s: %d/%d chunks committed: %v", e.DocumentID, e.Committed, e.Total, e.Cause)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Cause
}

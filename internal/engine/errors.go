package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrModelCorrupted is wrapped by every error that leaves the shared
	// lattice unusable. Once reported, every model operation fails with it.
	ErrModelCorrupted = errors.New("model corrupted")

	ErrDocumentClosed    = errors.New("document closed")
	ErrDocumentCommitted = errors.New("document already processed")
	ErrUnknownNeuron     = errors.New("unknown neuron")
	ErrUnknownNode       = errors.New("unknown lattice node")
	ErrDuplicateNeuron   = errors.New("duplicate neuron label")
	ErrNotInputNeuron    = errors.New("neuron does not accept external input")
	ErrNoPositiveInput   = errors.New("neuron needs at least one positive feed-forward synapse")
	ErrFeedforwardCycle  = errors.New("non-recurrent synapse would close a cycle")
)

// BelowToleranceError reports an update whose magnitude is too small to be
// applied. The update is skipped; callers may accumulate and retry.
type BelowToleranceError struct {
	Element   string
	Magnitude float64
	Tolerance float64
}

func (e *BelowToleranceError) Error() string {
	return fmt.Sprintf("update of %s skipped: magnitude %g below tolerance %g", e.Element, e.Magnitude, e.Tolerance)
}

// SearchExhaustedError reports that the interpretation search of a document
// passed its node bound. Only that document fails.
type SearchExhaustedError struct {
	Doc     string
	Limit   int
	Visited int
}

func (e *SearchExhaustedError) Error() string {
	return fmt.Sprintf("document %s: search exhausted after %d nodes (limit %d)", e.Doc, e.Visited, e.Limit)
}

// UnsettledError reports that the recurrent evaluation behind a document's
// interpretation was still moving when the iteration limit ran out. Only
// that document fails.
type UnsettledError struct {
	Doc        string
	Iterations int
	// Evaluations counts the evaluations that did not settle during the search.
	Evaluations int
}

func (e *UnsettledError) Error() string {
	return fmt.Sprintf("document %s: recurrent evaluation did not settle within %d iterations (%d evaluations)",
		e.Doc, e.Iterations, e.Evaluations)
}

// LatticeCorruptionError reports a violated memoization invariant: two
// distinct nodes claim the same structural key.
type LatticeCorruptionError struct {
	Key      string
	Existing int
	Created  int
}

func (e *LatticeCorruptionError) Error() string {
	return fmt.Sprintf("lattice corruption: key %q held by node %d and node %d", e.Key, e.Existing, e.Created)
}

func (e *LatticeCorruptionError) Unwrap() error { return ErrModelCorrupted }

// SuspensionError wraps a failure of the suspension hook. The node stays in
// its pre-eviction state.
type SuspensionError struct {
	NodeID int
	Op     string
	Err    error
}

func (e *SuspensionError) Error() string {
	return fmt.Sprintf("%s node %d: %v", e.Op, e.NodeID, e.Err)
}

func (e *SuspensionError) Unwrap() error { return e.Err }

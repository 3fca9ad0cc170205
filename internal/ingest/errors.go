package ingest

import (
	"errors"
	"fmt"
)

// Kind partitions pipeline failures by retry policy.
type Kind string

const (
	// KindValidation marks malformed input rejected before
	// fingerprinting. Never retried.
	KindValidation Kind = "validation"
	// KindStorage marks a transient persistence failure. Retried with
	// backoff by the coordinator; fatal once attempts are exhausted.
	KindStorage Kind = "storage"
	// KindAnalysis marks a failed analysis step. Non-fatal: the commit
	// stays stored with a degraded analysis marker.
	KindAnalysis Kind = "analysis"
	// KindIndex marks a failed index write. Non-fatal, retried
	// asynchronously.
	KindIndex Kind = "index"
)

// StepError records which pipeline state a failure occurred in,
// together with the origin identifiers callers need to re-submit.
type StepError struct {
	State      State
	Kind       Kind
	CommitHash string
	Repository string
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failure at %s for %s@%s: %v", e.Kind, e.State, shortRef(e.CommitHash), e.Repository, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(state State, kind Kind, hash, repo string, err error) *StepError {
	return &StepError{State: state, Kind: kind, CommitHash: hash, Repository: repo, Err: err}
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) Kind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func shortRef(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	if hash == "" {
		return "unknown"
	}
	return hash
}

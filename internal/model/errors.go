package model

import (
	"errors"
	"fmt"
)

// ErrorClass partitions stage failures by how the orchestrator must react.
type ErrorClass string

const (
	// ClassIngestion: malformed or unverifiable inbound event. Reject, no run.
	ClassIngestion ErrorClass = "ingestion"
	// ClassParse: LLM output failed validation after repair retries.
	ClassParse ErrorClass = "parse"
	// ClassPolicy: the safety policy vetoed a plan or patch. Terminal branch.
	ClassPolicy ErrorClass = "policy"
	// ClassSandbox: validation or scanning failed inside the sandbox. Terminal branch.
	ClassSandbox ErrorClass = "sandbox"
	// ClassTransient: network/DB/Redis/provider hiccup. Retry with backoff.
	ClassTransient ErrorClass = "transient"
	// ClassConflict: another worker holds the run or moved it first. Re-read, no retry accounting.
	ClassConflict ErrorClass = "conflict"
	// ClassFatal: invariant violation or unrecoverable setup error.
	ClassFatal ErrorClass = "fatal"
)

// StageError is a stage failure tagged with its class. The orchestrator
// matches on Class() to pick retry, terminal branch, or escalation.
type StageError struct {
	Stage string
	Kind  ErrorClass
	Err   error
}

func NewStageError(stage string, kind ErrorClass, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stage %s failed (%s)", e.Stage, e.Kind)
	}
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Class() ErrorClass {
	return e.Kind
}

// Retryable reports whether the failure may succeed on a later attempt.
func (e *StageError) Retryable() bool {
	return e.Kind == ClassTransient
}

// ClassOf extracts the error class, walking wrapped errors. Untagged
// errors classify as fatal so nothing retries by accident.
func ClassOf(err error) ErrorClass {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ClassFatal
}

func IsTransient(err error) bool {
	return ClassOf(err) == ClassTransient
}

func IsConflict(err error) bool {
	return ClassOf(err) == ClassConflict
}

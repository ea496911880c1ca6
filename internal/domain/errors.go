package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidSource      = errors.New("invalid source")
	ErrAllProvidersFailed = errors.New("all providers failed")
	ErrEngineLoadFailed   = errors.New("transcoding engine load failed")
	ErrTranscodeFailed    = errors.New("transcode failed")
	ErrIncompleteUploads  = errors.New("incomplete uploads")
	ErrRemuxFailed        = errors.New("redub merge failed")
	ErrInvalidUpload      = errors.New("invalid upload")
	ErrDuplicateSegment   = errors.New("duplicate segment start time")
)

// ProvidersFailedError lists every attempt made before acquisition gave up.
type ProvidersFailedError struct {
	SourceID string
	Attempts []ProviderStatus
}

func (e *ProvidersFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%s for %s: no providers available", ErrAllProvidersFailed, e.SourceID)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, attempt.Name+": "+attempt.Error)
	}
	return fmt.Sprintf("%s for %s (%s)", ErrAllProvidersFailed, e.SourceID, strings.Join(parts, "; "))
}

func (e *ProvidersFailedError) Unwrap() error {
	return ErrAllProvidersFailed
}

// TranscodeError carries the engine's own message for a failed invocation.
type TranscodeError struct {
	Unit string
	Err  error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTranscodeFailed, e.Unit, e.Err)
}

func (e *TranscodeError) Unwrap() []error {
	return []error{ErrTranscodeFailed, e.Err}
}

type IncompleteUploadsError struct {
	MissingIndex int
	Missing      int
}

func (e *IncompleteUploadsError) Error() string {
	return fmt.Sprintf("%s: segment %d has no replacement (%d missing)", ErrIncompleteUploads, e.MissingIndex, e.Missing)
}

func (e *IncompleteUploadsError) Unwrap() error {
	return ErrIncompleteUploads
}

type MergeStep string

const (
	MergeStepExtraction    MergeStep = "extraction"
	MergeStepConcatenation MergeStep = "concatenation"
	MergeStepRemux         MergeStep = "remux"
)

// MergeError tags a redub failure with the step that failed.
type MergeError struct {
	Step MergeStep
	Err  error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("%s during %s: %v", ErrRemuxFailed, e.Step, e.Err)
}

func (e *MergeError) Unwrap() []error {
	return []error{ErrRemuxFailed, e.Err}
}

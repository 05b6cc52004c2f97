package knowledge

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies pipeline failures for callers that map them onto
// transport codes or report them per file.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindExtraction        Kind = "extraction"
	KindEmbedding         Kind = "embedding"
	KindDuplicate         Kind = "duplicate_document"
	KindNotFound          Kind = "not_found"
	KindStore             Kind = "store"
	KindTimeout           Kind = "timeout"
	KindUnknown           Kind = "unknown"
)

// InvalidInputError reports arguments or files that cannot be processed as given.
type InvalidInputError struct {
	Field  string
	Reason string
	Cause  error
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return e.Cause }

// NewInvalidInput builds an InvalidInputError with a formatted reason.
func NewInvalidInput(field, format string, args ...any) *InvalidInputError {
	return &InvalidInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedFormatError reports a file extension with no registered extractor.
type UnsupportedFormatError struct {
	Path      string
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format %q: %s", e.Extension, e.Path)
}

// ExtractionError wraps a parser failure for a specific file.
type ExtractionError struct {
	Path  string
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract text from %s: %v", e.Path, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// EmbeddingError reports that no embedding backend could produce vectors.
type EmbeddingError struct {
	Backend string
	Cause   error
}

func (e *EmbeddingError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("embedding failed: %v", e.Cause)
	}
	return fmt.Sprintf("embedding failed on %s backend: %v", e.Backend, e.Cause)
}

func (e *EmbeddingError) Unwrap() error { return e.Cause }

// DuplicateDocumentError reports that content with the same hash is already indexed.
type DuplicateDocumentError struct {
	Hash string
	Path string
}

func (e *DuplicateDocumentError) Error() string {
	return fmt.Sprintf("document already indexed: %s (hash %s)", e.Path, e.Hash)
}

// NotFoundError reports a missing document or chunk.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// StoreError wraps a vector engine failure.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store %s failed: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Cause   error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
	}
	return e.Op + " timed out"
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return errors.As(err, &target)
}

func IsUnsupportedFormat(err error) bool {
	var target *UnsupportedFormatError
	return errors.As(err, &target)
}

func IsExtraction(err error) bool {
	var target *ExtractionError
	return errors.As(err, &target)
}

func IsEmbedding(err error) bool {
	var target *EmbeddingError
	return errors.As(err, &target)
}

func IsDuplicate(err error) bool {
	var target *DuplicateDocumentError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsStore(err error) bool {
	var target *StoreError
	return errors.As(err, &target)
}

func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// KindOf returns the taxonomy kind of err. Timeouts win over the
// wrapper they travel in.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case IsTimeout(err):
		return KindTimeout
	case IsDuplicate(err):
		return KindDuplicate
	case IsNotFound(err):
		return KindNotFound
	case IsUnsupportedFormat(err):
		return KindUnsupportedFormat
	case IsInvalidInput(err):
		return KindInvalidInput
	case IsExtraction(err):
		return KindExtraction
	case IsEmbedding(err):
		return KindEmbedding
	case IsStore(err):
		return KindStore
	default:
		return KindUnknown
	}
}

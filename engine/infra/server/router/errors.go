package router

import (
	"context"
	"errors"
	"net/http"

	"github.com/compozy/ragpipe/engine/knowledge"
)

// Problem codes carried in the "code" member of error responses.
const (
	ErrInternalCode           = "internal_error"
	ErrBadRequestCode         = "invalid_input"
	ErrUnsupportedFormatCode  = "unsupported_format"
	ErrExtractionCode         = "extraction_failed"
	ErrEmbeddingCode          = "embedding_unavailable"
	ErrDuplicateCode          = "duplicate_document"
	ErrNotFoundCode           = "not_found"
	ErrStoreCode              = "vector_store_error"
	ErrTimeoutCode            = "timeout"
	ErrCanceledCode           = "request_canceled"
	ErrRateLimitedCode        = "rate_limited"
	ErrPayloadTooLargeCode    = "payload_too_large"
	ErrServiceUnavailableCode = "service_unavailable"
)

// StatusClientClosedRequest is the non-standard status logged when the
// client went away before the response was written.
const StatusClientClosedRequest = 499

// ErrorStatus maps a pipeline error onto an HTTP status and problem code.
func ErrorStatus(err error) (int, string) {
	switch knowledge.KindOf(err) {
	case knowledge.KindInvalidInput:
		return http.StatusBadRequest, ErrBadRequestCode
	case knowledge.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType, ErrUnsupportedFormatCode
	case knowledge.KindExtraction:
		return http.StatusUnprocessableEntity, ErrExtractionCode
	case knowledge.KindEmbedding:
		return http.StatusServiceUnavailable, ErrEmbeddingCode
	case knowledge.KindDuplicate:
		return http.StatusConflict, ErrDuplicateCode
	case knowledge.KindNotFound:
		return http.StatusNotFound, ErrNotFoundCode
	case knowledge.KindStore:
		return http.StatusBadGateway, ErrStoreCode
	case knowledge.KindTimeout:
		return http.StatusGatewayTimeout, ErrTimeoutCode
	}
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, ErrPayloadTooLargeCode
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrTimeoutCode
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, ErrCanceledCode
	}
	return http.StatusInternalServerError, ErrInternalCode
}

package embedder

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"

	"github.com/ollama/ollama/api"
	reserrors "github.com/slok/goresilience/errors"
)

// failureClass separates outages, which demote the primary backend, from
// request problems, which would fail on any backend.
type failureClass int

const (
	failureUnavailable failureClass = iota
	failureInput
	failureCanceled
)

func (c failureClass) String() string {
	switch c {
	case failureInput:
		return "invalid_input"
	case failureCanceled:
		return "canceled"
	default:
		return "unavailable"
	}
}

var statusCodePattern = regexp.MustCompile(`status code:? ?(\d{3})`)

func classify(err error) failureClass {
	switch {
	case errors.Is(err, context.Canceled):
		return failureCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, reserrors.ErrTimeout):
		return failureUnavailable
	}
	var status api.StatusError
	if errors.As(err, &status) {
		return classifyStatus(status.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return failureUnavailable
	}
	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return classifyStatus(code)
		}
	}
	return failureUnavailable
}

func classifyStatus(code int) failureClass {
	switch {
	case code == 404, code == 408, code == 429, code >= 500:
		return failureUnavailable
	case code >= 400:
		return failureInput
	default:
		return failureUnavailable
	}
}

package router

import (
	"encoding/json"
	"maps"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compozy/ragpipe/pkg/logger"
)

const problemContentType = "application/problem+json"

// Problem captures the information returned in an RFC 7807 error response.
type Problem struct {
	Type     string
	Title    string
	Status   int
	Detail   string
	Instance string
	Extras   map[string]any
}

// ProblemDocument is the wire shape of a problem response.
type ProblemDocument struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
}

func normalizeProblem(problem *Problem) *Problem {
	if problem == nil {
		problem = &Problem{}
	}
	if problem.Status == 0 {
		problem.Status = http.StatusInternalServerError
	}
	if problem.Title == "" {
		problem.Title = http.StatusText(problem.Status)
		if problem.Title == "" {
			problem.Title = "Client Closed Request"
		}
	}
	if problem.Type == "" {
		problem.Type = "about:blank"
	}
	return problem
}

func buildProblemBody(problem *Problem) map[string]any {
	body := make(map[string]any, len(problem.Extras)+5)
	for key, value := range maps.All(problem.Extras) {
		if !isReservedProblemKey(key) || key == "code" {
			body[key] = value
		}
	}
	body["type"] = problem.Type
	body["title"] = problem.Title
	body["status"] = problem.Status
	if problem.Detail != "" {
		body["detail"] = problem.Detail
	}
	if problem.Instance != "" {
		body["instance"] = problem.Instance
	}
	return body
}

func isReservedProblemKey(key string) bool {
	switch key {
	case "type", "title", "status", "detail", "instance", "code":
		return true
	default:
		return false
	}
}

// RespondProblem writes a canonical RFC 7807 error response.
func RespondProblem(c *gin.Context, problem *Problem) {
	prepared := normalizeProblem(problem)
	if prepared.Instance == "" && c.Request != nil {
		prepared.Instance = c.Request.URL.Path
	}
	writeProblemResponse(c, prepared, buildProblemBody(prepared))
}

// RespondProblemWithCode writes a problem response embedding a code and detail.
func RespondProblemWithCode(c *gin.Context, status int, code string, detail string) {
	RespondProblem(c, &Problem{
		Status: status,
		Detail: detail,
		Extras: map[string]any{"code": code},
	})
}

// RespondError maps err through ErrorStatus. Server side failures hide
// their cause from the client.
func RespondError(c *gin.Context, err error) {
	status, code := ErrorStatus(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = "internal server error"
	}
	_ = c.Error(err)
	RespondProblemWithCode(c, status, code, detail)
}

func writeProblemResponse(c *gin.Context, problem *Problem, body map[string]any) {
	logProblem(c, problem)
	payload, err := json.Marshal(body)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("failed to marshal problem", "err", err)
		fallback := []byte(`{"status":500,"title":"Internal Server Error"}`)
		c.Data(http.StatusInternalServerError, problemContentType, fallback)
		c.Abort()
		return
	}
	c.Data(problem.Status, problemContentType, payload)
	c.Abort()
}

func logProblem(c *gin.Context, problem *Problem) {
	log := logger.FromContext(c.Request.Context())
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	fields := []any{
		"status", problem.Status,
		"title", problem.Title,
		"detail", problem.Detail,
		"route", route,
	}
	if code, ok := problem.Extras["code"]; ok {
		fields = append(fields, "code", code)
	}
	if requestID := c.Writer.Header().Get(HeaderRequestID); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if problem.Status >= http.StatusInternalServerError {
		log.Error("request failed", fields...)
		return
	}
	log.Warn("request failed", fields...)
}

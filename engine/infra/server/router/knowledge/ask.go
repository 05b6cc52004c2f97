package knowledgerouter

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/compozy/ragpipe/engine/infra/server/appstate"
	"github.com/compozy/ragpipe/engine/infra/server/router"
)

const (
	eventToken = "token"
	eventDone  = "done"
	eventError = "error"
	streamKind = "ask"
)

func wantsStream(c *gin.Context, req *AskRequest) bool {
	return req.Stream || strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

// ask handles POST /ask.
//
// @Summary Answer a question from the indexed documents
// @Description Retrieves context and generates an answer. With "stream": true or
// @Description Accept: text/event-stream the answer is sent as "token" events
// @Description followed by a "done" event carrying the sources.
// @Tags retrieval
// @Accept json
// @Produce json
// @Produce text/event-stream
// @Param payload body knowledgerouter.AskRequest true "Question"
// @Success 200 {object} router.Response{data=retriever.Answer} "Answer with sources"
// @Failure 400 {object} router.ProblemDocument "Invalid question"
// @Failure 503 {object} router.ProblemDocument "Embedding backend unavailable"
// @Router /ask [post]
func ask(c *gin.Context) {
	svc, ok := servicesFrom(c)
	if !ok {
		return
	}
	var req AskRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		router.RespondProblemWithCode(c, http.StatusBadRequest, router.ErrBadRequestCode, "question cannot be empty")
		return
	}
	if wantsStream(c, &req) {
		streamAnswer(c, svc, &req)
		return
	}
	answer, err := svc.Ask(c.Request.Context(), req.Question, req.options())
	if err != nil {
		router.RespondError(c, err)
		return
	}
	router.RespondOK(c, "answer generated", answer)
}

func streamAnswer(c *gin.Context, svc appstate.Services, req *AskRequest) {
	telemetry := router.NewStreamTelemetry(c.Request.Context(), streamKind)
	ctx := telemetry.Context()
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	started := false
	sources, err := svc.AskStream(ctx, req.Question, req.options(), func(fragment string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		started = true
		c.SSEvent(eventToken, StreamToken{Text: fragment})
		c.Writer.Flush()
		telemetry.RecordEvent(eventToken)
		return nil
	})
	switch {
	case err == nil:
		c.SSEvent(eventDone, StreamDone{Question: req.Question, Sources: sources})
		c.Writer.Flush()
		telemetry.RecordEvent(eventDone)
		telemetry.Close(router.StreamReasonCompleted, nil)
	case errors.Is(err, context.Canceled):
		telemetry.Close(router.StreamReasonContextCanceled, nil)
	case !started:
		// nothing sent yet, a regular problem response is still possible
		telemetry.Close(router.StreamReasonStreamError, err)
		router.RespondError(c, err)
	default:
		status, code := router.ErrorStatus(err)
		c.SSEvent(eventError, router.ProblemDocument{
			Title:  http.StatusText(status),
			Status: status,
			Detail: err.Error(),
			Code:   code,
		})
		c.Writer.Flush()
		telemetry.RecordEvent(eventError)
		telemetry.Close(router.StreamReasonStreamError, err)
	}
}

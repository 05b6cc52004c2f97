package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compozy/ragpipe/engine/infra/server/appstate"
	"github.com/compozy/ragpipe/engine/infra/server/router"
	"github.com/compozy/ragpipe/pkg/version"
)

// healthHandler reports dependency reachability.
//
//	@Summary      Get server health
//	@Description  Probes the vector store, Ollama and redis. Only the vector store is required.
//	@Tags         health
//	@Produce      json
//	@Success      200 {object} router.Response{data=app.Health} "Service is healthy"
//	@Failure      503 {object} router.Response{data=app.Health} "Vector store unreachable"
//	@Router       /healthz [get]
func healthHandler(c *gin.Context) {
	state, err := appstate.GetState(c.Request.Context())
	if err != nil {
		router.RespondProblemWithCode(c, http.StatusInternalServerError, router.ErrInternalCode, err.Error())
		return
	}
	health := state.Services.CheckHealth(c.Request.Context())
	data := gin.H{
		"version": version.GetVersion(),
		"health":  health,
	}
	if !health.Healthy {
		router.RespondWithStatus(c, http.StatusServiceUnavailable, "not ready", data)
		return
	}
	router.RespondOK(c, "healthy", data)
}

package appstate

import (
	"context"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/compozy/ragpipe/engine/app"
	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/index"
	"github.com/compozy/ragpipe/engine/knowledge/ingest"
	"github.com/compozy/ragpipe/engine/knowledge/retriever"
	"github.com/compozy/ragpipe/engine/uploads"
	appconfig "github.com/compozy/ragpipe/pkg/config"
)

type contextKey string

const (
	stateKey contextKey = "app_state"
	// StateKey is the gin context key holding *State.
	StateKey = "app_state"
)

// Services is the set of pipeline operations reachable over HTTP.
// *app.App implements it.
type Services interface {
	IngestPaths(ctx context.Context, paths []string) (*ingest.Report, error)
	Upload(ctx context.Context, name string, content io.Reader) (*app.UploadResult, error)
	DeleteDocument(ctx context.Context, hash string) (int, error)
	Reset(ctx context.Context) error
	Search(ctx context.Context, query string, k int, filter map[string]string) ([]index.Result, error)
	Retrieve(ctx context.Context, query string, k int, filter map[string]string) ([]knowledge.RetrievedContext, error)
	FindSimilar(ctx context.Context, chunkID string, k int) ([]index.Result, error)
	Stats(ctx context.Context) (index.Stats, error)
	Documents(ctx context.Context) ([]index.DocumentInfo, error)
	Ask(ctx context.Context, question string, opts retriever.AnswerOptions) (*retriever.Answer, error)
	AskStream(
		ctx context.Context,
		question string,
		opts retriever.AnswerOptions,
		fn func(fragment string) error,
	) ([]retriever.Source, error)
	ListUploads(ctx context.Context) ([]uploads.File, error)
	DeleteUpload(ctx context.Context, name string) error
	CheckHealth(ctx context.Context) app.Health
}

// State is shared by every request handler.
type State struct {
	Config   *appconfig.Config
	Services Services
}

func NewState(cfg *appconfig.Config, services Services) (*State, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if services == nil {
		return nil, fmt.Errorf("services are required")
	}
	return &State{Config: cfg, Services: services}, nil
}

func WithState(ctx context.Context, state *State) context.Context {
	return context.WithValue(ctx, stateKey, state)
}

func GetState(ctx context.Context) (*State, error) {
	state, ok := ctx.Value(stateKey).(*State)
	if !ok {
		return nil, fmt.Errorf("app state not found in context")
	}
	return state, nil
}

// StateMiddleware stores state in both the gin and request contexts.
func StateMiddleware(state *State) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(StateKey, state)
		c.Request = c.Request.WithContext(WithState(c.Request.Context(), state))
		c.Next()
	}
}

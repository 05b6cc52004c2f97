// Package llm talks to the Ollama generation API: prompting, streaming and
// model management.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/ollama/ollama/api"

	appconfig "github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
	"github.com/compozy/ragpipe/pkg/tplengine"
)

const (
	defaultTimeout     = 5 * time.Minute
	promptTemplateName = "answer"
)

// minServerVersion is the first Ollama release with batch /api/embed.
var minServerVersion = semver.MustParse("0.3.0")

// Request is one generation call. Context, when set, is wrapped around
// Prompt with the configured template.
type Request struct {
	Prompt      string
	Context     string
	Temperature float64
	MaxTokens   int
}

// Model describes a locally available model.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Digest     string    `json:"digest"`
}

// PullProgress reports download progress of Pull.
type PullProgress struct {
	Status    string `json:"status"`
	Completed int64  `json:"completed"`
	Total     int64  `json:"total"`
}

// Options configures a Client.
type Options struct {
	Host           string
	Model          string
	Timeout        time.Duration
	PromptTemplate string
	HTTPClient     *http.Client
	// Recorder defaults to instruments on the global meter provider.
	Recorder Recorder
}

type Client struct {
	api   *api.Client
	host  string
	model string
	tpl   *tplengine.TemplateEngine
	rec   Recorder
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("llm model is required")
	}
	base, err := url.Parse(opts.Host)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid Ollama host %q", opts.Host)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	promptTemplate := opts.PromptTemplate
	if strings.TrimSpace(promptTemplate) == "" {
		promptTemplate = appconfig.DefaultPromptTemplate
	}
	tpl := tplengine.NewEngine()
	if err := tpl.AddTemplate(promptTemplateName, promptTemplate); err != nil {
		return nil, fmt.Errorf("prompt template: %w", err)
	}
	rec := opts.Recorder
	if rec == nil {
		rec = defaultRecorder(context.Background())
	}
	return &Client{
		api:   api.NewClient(base, httpClient),
		host:  opts.Host,
		model: opts.Model,
		tpl:   tpl,
		rec:   rec,
	}, nil
}

// FromConfig builds a client for the configured generation model.
func FromConfig(cfg *appconfig.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("llm configuration is required")
	}
	return New(Options{
		Host:           cfg.Ollama.Host,
		Model:          cfg.Ollama.Model,
		Timeout:        cfg.Ollama.Timeout,
		PromptTemplate: cfg.Retrieval.PromptTemplate,
	})
}

// Model returns the generation model name.
func (c *Client) Model() string {
	return c.model
}

// BuildPrompt applies the prompt template when context is present.
func (c *Client) BuildPrompt(req Request) (string, error) {
	if strings.TrimSpace(req.Context) == "" {
		return req.Prompt, nil
	}
	return c.tpl.Render(promptTemplateName, map[string]any{
		"Context":  req.Context,
		"Question": req.Prompt,
	})
}

// Generate returns the complete answer for req.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	var out strings.Builder
	if err := c.generate(ctx, req, false, func(fragment string) error {
		out.WriteString(fragment)
		return nil
	}); err != nil {
		return "", err
	}
	return out.String(), nil
}

// Stream delivers answer fragments to fn as they arrive. An error from fn
// stops the stream and is returned.
func (c *Client) Stream(ctx context.Context, req Request, fn func(fragment string) error) error {
	if fn == nil {
		return errors.New("stream callback is required")
	}
	return c.generate(ctx, req, true, fn)
}

func (c *Client) generate(ctx context.Context, req Request, stream bool, fn func(string) error) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return errors.New("prompt is required")
	}
	prompt, err := c.BuildPrompt(req)
	if err != nil {
		return fmt.Errorf("render prompt: %w", err)
	}
	genReq := &api.GenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: generationOptions(req),
	}
	start := time.Now()
	err = c.api.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
		if resp.Done {
			c.rec.RecordTokens(ctx, c.model, tokenTypePrompt, resp.PromptEvalCount)
			c.rec.RecordTokens(ctx, c.model, tokenTypeOutput, resp.EvalCount)
		}
		if resp.Response == "" {
			return nil
		}
		return fn(resp.Response)
	})
	if err != nil {
		c.rec.RecordRequest(ctx, c.model, time.Since(start), outcomeError)
		logger.FromContext(ctx).Error("Generation failed", "model", c.model, "error", err)
		return fmt.Errorf("ollama generate with %s: %w", c.model, err)
	}
	c.rec.RecordRequest(ctx, c.model, time.Since(start), outcomeSuccess)
	logger.FromContext(ctx).Debug("Generation finished",
		"model", c.model,
		"stream", stream,
		"duration", time.Since(start),
	)
	return nil
}

func generationOptions(req Request) map[string]any {
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	return options
}

// Ping reports whether the Ollama server answers and is recent enough.
// A server that does not report a parseable version is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.api.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama at %s unreachable: %w", c.host, err)
	}
	raw, err := c.api.Version(ctx)
	if err != nil {
		logger.FromContext(ctx).Debug("Ollama version unavailable", "host", c.host, "error", err)
		return nil
	}
	return checkServerVersion(raw)
}

func checkServerVersion(raw string) error {
	v, err := semver.NewVersion(raw)
	if err != nil || v.Equal(semver.MustParse("0.0.0")) {
		return nil
	}
	if v.LessThan(minServerVersion) {
		return fmt.Errorf("ollama %s is older than the required %s", v, minServerVersion)
	}
	return nil
}

// Models lists locally available models.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	resp, err := c.api.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ollama models: %w", err)
	}
	models := make([]Model, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = Model{Name: m.Name, Size: m.Size, ModifiedAt: m.ModifiedAt, Digest: m.Digest}
	}
	return models, nil
}

// HasModel reports whether a local model name starts with name, so "llama2"
// matches "llama2:7b".
func (c *Client) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := c.Models(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if strings.HasPrefix(m.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

// Pull downloads name unless it is already present. progress may be nil.
func (c *Client) Pull(ctx context.Context, name string, progress func(PullProgress)) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("model name is required")
	}
	present, err := c.HasModel(ctx, name)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	if present {
		log.Debug("Model already present", "model", name)
		return nil
	}
	log.Info("Pulling model", "model", name)
	err = c.api.Pull(ctx, &api.PullRequest{Model: name}, func(resp api.ProgressResponse) error {
		if progress != nil {
			progress(PullProgress{Status: resp.Status, Completed: resp.Completed, Total: resp.Total})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pull %s: %w", name, err)
	}
	log.Info("Model pulled", "model", name)
	return nil
}

// Package mcpserver exposes ingestion and retrieval as Model Context
// Protocol tools so assistants can query the indexed documents.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/pretty"

	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/index"
	"github.com/compozy/ragpipe/engine/knowledge/ingest"
	"github.com/compozy/ragpipe/engine/knowledge/retriever"
	"github.com/compozy/ragpipe/pkg/logger"
	"github.com/compozy/ragpipe/pkg/version"
)

const (
	serverName = "ragpipe"
	defaultK   = 5
	maxK       = 50
)

// Transport names accepted by Serve.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Services is the part of the application the tools call into.
type Services interface {
	IngestPaths(ctx context.Context, paths []string) (*ingest.Report, error)
	DeleteDocument(ctx context.Context, hash string) (int, error)
	Search(ctx context.Context, query string, k int, filter map[string]string) ([]index.Result, error)
	Retrieve(ctx context.Context, query string, k int, filter map[string]string) ([]knowledge.RetrievedContext, error)
	FindSimilar(ctx context.Context, chunkID string, k int) ([]index.Result, error)
	Stats(ctx context.Context) (index.Stats, error)
	Documents(ctx context.Context) ([]index.DocumentInfo, error)
	Ask(ctx context.Context, question string, opts retriever.AnswerOptions) (*retriever.Answer, error)
}

// Server registers one tool per pipeline operation.
type Server struct {
	svc Services
	mcp *server.MCPServer
	// readOnly hides tools that change the collection
	readOnly bool
	tools    []string
}

// Options configures the tool set.
type Options struct {
	ReadOnly bool
	Logging  bool
}

func New(svc Services, opts Options) (*Server, error) {
	if svc == nil {
		return nil, errors.New("mcp: services are required")
	}
	serverOpts := []server.ServerOption{
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	}
	if opts.Logging {
		serverOpts = append(serverOpts, server.WithLogging())
	}
	s := &Server{
		svc:      svc,
		mcp:      server.NewMCPServer(serverName, version.GetVersion(), serverOpts...),
		readOnly: opts.ReadOnly,
	}
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) registerTools() {
	s.addTool(mcp.NewTool("search",
		mcp.WithDescription("Similarity search over the indexed documents. Returns chunks by ascending distance."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free text query")),
		mcp.WithNumber("k", mcp.Description("Number of results (default 5, max 50)")),
		mcp.WithString("file_name", mcp.Description("Restrict results to one source file")),
	), s.search)
	s.addTool(mcp.NewTool("retrieve",
		mcp.WithDescription("Chunks relevant to a question, filtered by the similarity threshold."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Question or topic")),
		mcp.WithNumber("k", mcp.Description("Number of contexts (default 5, max 50)")),
	), s.retrieve)
	s.addTool(mcp.NewTool("ask",
		mcp.WithDescription("Answer a question from the indexed documents with the configured Ollama model."),
		mcp.WithString("question", mcp.Required()),
		mcp.WithNumber("k", mcp.Description("Number of contexts used to ground the answer")),
		mcp.WithNumber("temperature", mcp.Description("Sampling temperature between 0 and 2")),
	), s.ask)
	s.addTool(mcp.NewTool("similar_chunks",
		mcp.WithDescription("Chunks closest to a stored chunk, excluding the chunk itself."),
		mcp.WithString("chunk_id", mcp.Required()),
		mcp.WithNumber("k", mcp.Description("Number of results (default 5, max 50)")),
	), s.similar)
	s.addTool(mcp.NewTool("list_documents",
		mcp.WithDescription("Indexed documents with their hash and chunk count."),
	), s.documents)
	s.addTool(mcp.NewTool("stats",
		mcp.WithDescription("Chunk and document counts of the collection."),
	), s.stats)
	if s.readOnly {
		return
	}
	s.addTool(mcp.NewTool("ingest",
		mcp.WithDescription("Ingest files, directories or glob patterns readable by the server."),
		mcp.WithArray("paths", mcp.Required(), mcp.WithStringItems()),
	), s.ingest)
	s.addTool(mcp.NewTool("delete_document",
		mcp.WithDescription("Remove every chunk of a document by content hash."),
		mcp.WithString("hash", mcp.Required()),
	), s.deleteDocument)
}

func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, instrument(tool.Name, handler))
	s.tools = append(s.tools, tool.Name)
}

// Tools lists the registered tool names.
func (s *Server) Tools() []string {
	return slices.Clone(s.tools)
}

func limit(req mcp.CallToolRequest) int {
	k := req.GetInt("k", defaultK)
	if k <= 0 {
		return defaultK
	}
	return min(k, maxK)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(pretty.Pretty(data))), nil
}

// toolError turns pipeline errors into tool errors the model can read.
// Anything else fails the call.
func toolError(ctx context.Context, tool string, err error) (*mcp.CallToolResult, error) {
	logger.FromContext(ctx).Warn("MCP tool failed", "tool", tool, "error", err)
	if knowledge.KindOf(err) == knowledge.KindUnknown {
		return nil, err
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", knowledge.KindOf(err), err)), nil
}

func (s *Server) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var filter map[string]string
	if name := strings.TrimSpace(req.GetString("file_name", "")); name != "" {
		filter = map[string]string{"file_name": name}
	}
	results, err := s.svc.Search(ctx, query, limit(req), filter)
	if err != nil {
		return toolError(ctx, "search", err)
	}
	return jsonResult(results)
}

func (s *Server) retrieve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	contexts, err := s.svc.Retrieve(ctx, query, limit(req), nil)
	if err != nil {
		return toolError(ctx, "retrieve", err)
	}
	return jsonResult(contexts)
}

func (s *Server) ask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := retriever.AnswerOptions{TopK: limit(req)}
	if t := req.GetFloat("temperature", -1); t >= 0 {
		opts.Temperature = &t
	}
	answer, err := s.svc.Ask(ctx, question, opts)
	if err != nil {
		return toolError(ctx, "ask", err)
	}
	answer.Contexts = nil
	return jsonResult(answer)
}

func (s *Server) similar(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("chunk_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.FindSimilar(ctx, id, limit(req))
	if err != nil {
		return toolError(ctx, "similar_chunks", err)
	}
	return jsonResult(results)
}

func (s *Server) documents(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.svc.Documents(ctx)
	if err != nil {
		return toolError(ctx, "list_documents", err)
	}
	return jsonResult(docs)
}

func (s *Server) stats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.svc.Stats(ctx)
	if err != nil {
		return toolError(ctx, "stats", err)
	}
	return jsonResult(stats)
}

func (s *Server) ingest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths, err := req.RequireStringSlice("paths")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.svc.IngestPaths(ctx, paths)
	if err != nil {
		return toolError(ctx, "ingest", err)
	}
	return jsonResult(report)
}

func (s *Server) deleteDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash, err := req.RequireString("hash")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.DeleteDocument(ctx, hash)
	if err != nil {
		return toolError(ctx, "delete_document", err)
	}
	return jsonResult(map[string]any{"hash": hash, "chunks_deleted": n})
}

// Serve runs the server on the given transport until ctx is canceled. addr
// is only used by the SSE transport.
func (s *Server) Serve(ctx context.Context, transport string, addr string) error {
	log := logger.FromContext(ctx)
	switch transport {
	case TransportStdio, "":
		log.Info("Serving MCP over stdio")
		return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
	case TransportSSE:
		sse := server.NewSSEServer(s.mcp, server.WithBaseURL("http://"+addr))
		errCh := make(chan error, 1)
		go func() { errCh <- sse.Start(addr) }()
		log.Info("Serving MCP over SSE", "address", addr)
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			return sse.Shutdown(context.WithoutCancel(ctx))
		}
	default:
		return fmt.Errorf("mcp: unknown transport %q", transport)
	}
}

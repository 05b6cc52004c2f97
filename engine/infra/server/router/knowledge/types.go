package knowledgerouter

import (
	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/index"
	"github.com/compozy/ragpipe/engine/knowledge/retriever"
	"github.com/compozy/ragpipe/engine/uploads"
)

// SearchRequest is the body of POST /search and POST /retrieve.
type SearchRequest struct {
	Query  string            `json:"query"  binding:"required"`
	K      int               `json:"k"      binding:"omitempty,min=1,max=100"`
	Filter map[string]string `json:"filter"`
}

type SearchResponse struct {
	Query   string         `json:"query"`
	Results []index.Result `json:"results"`
}

type RetrieveResponse struct {
	Query    string                       `json:"query"`
	Contexts []knowledge.RetrievedContext `json:"contexts"`
}

// AskRequest is the body of POST /ask. Stream switches the response to
// server-sent events.
type AskRequest struct {
	Question    string            `json:"question"    binding:"required"`
	K           int               `json:"k"           binding:"omitempty,min=1,max=100"`
	Filter      map[string]string `json:"filter"`
	Temperature *float64          `json:"temperature" binding:"omitempty,min=0,max=2"`
	MaxTokens   int               `json:"max_tokens"  binding:"omitempty,min=1"`
	Stream      bool              `json:"stream"`
}

func (r *AskRequest) options() retriever.AnswerOptions {
	return retriever.AnswerOptions{
		TopK:        r.K,
		Filter:      r.Filter,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
}

// IngestRequest is the body of POST /documents/ingest. Paths are resolved on
// the server and may be files, directories or glob patterns.
type IngestRequest struct {
	Paths []string `json:"paths" binding:"required,min=1,dive,required"`
}

type ResetRequest struct {
	Confirm bool `json:"confirm"`
}

type DocumentListResponse struct {
	Documents []index.DocumentInfo `json:"documents"`
	Total     int                  `json:"total"`
}

type DeleteResponse struct {
	Hash          string `json:"hash"`
	ChunksDeleted int    `json:"chunks_deleted"`
}

type SimilarResponse struct {
	ChunkID string         `json:"chunk_id"`
	Results []index.Result `json:"results"`
}

type UploadListResponse struct {
	Files     []uploads.File `json:"files"`
	Total     int            `json:"total"`
	TotalSize string         `json:"total_size"`
}

// StreamToken is the payload of a "token" event.
type StreamToken struct {
	Text string `json:"text"`
}

// StreamDone is the payload of the final "done" event.
type StreamDone struct {
	Question string             `json:"question"`
	Sources  []retriever.Source `json:"sources"`
}

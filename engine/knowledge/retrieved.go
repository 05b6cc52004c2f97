package knowledge

// RetrievedContext is one chunk selected to ground an answer.
type RetrievedContext struct {
	ChunkID       string         `json:"chunk_id"`
	Content       string         `json:"content"`
	Source        string         `json:"source"`
	Distance      float64        `json:"distance"`
	Similarity    float64        `json:"similarity"`
	TokenEstimate int            `json:"token_estimate"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

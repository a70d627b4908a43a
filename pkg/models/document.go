package models

// RetrievedChunk is a ranked document fragment supplied by the retrieval
// collaborator. Ranking happens upstream; this core only consumes the tuple.
type RetrievedChunk struct {
	SourceID   string  `json:"source_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	PageNumber int     `json:"page_number,omitempty"`
}

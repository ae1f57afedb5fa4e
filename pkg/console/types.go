package console

import "time"

// Session is an owner context for documents, chunks, and RAG settings.
type Session struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	DocumentCount int       `json:"document_count"`
	ChunkCount    int       `json:"chunk_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Chunk is one output artifact produced by ingestion.
type Chunk struct {
	ID       string `json:"id"`
	Document string `json:"document"`
	Position int    `json:"position"`
	Content  string `json:"content"`
}

// RAGSettings configures retrieval-augmented answering for a session.
// Pointer fields distinguish "leave unchanged" from explicit zero on update.
type RAGSettings struct {
	TopK           *int     `json:"top_k,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	SystemPrompt   *string  `json:"system_prompt,omitempty"`
	EmbeddingModel *string  `json:"embedding_model,omitempty"`
	ChatModel      *string  `json:"chat_model,omitempty"`
}

// Model describes an embedding or chat model the backend can use.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"` // "embedding" or "chat"
}

// IngestOptions tune server-side chunking for a batch-ingestion job.
type IngestOptions struct {
	ChunkSize    int `json:"chunk_size,omitempty"`
	ChunkOverlap int `json:"chunk_overlap,omitempty"`
}

// UploadReceipt acknowledges one uploaded document.
type UploadReceipt struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
}

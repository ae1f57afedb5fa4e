package console

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"valid http", "http://localhost:8000", false},
		{"valid https with trailing slash", "https://api.example.edu/", false},
		{"empty", "", true},
		{"missing scheme", "api.example.edu", true},
		{"bad scheme", "ftp://api.example.edu", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{BaseURL: tt.baseURL}, nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSessionCRUD(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessions": []Session{
				{ID: "sess-1", Name: "Biology 101", DocumentCount: 3, ChunkCount: 55},
				{ID: "sess-2", Name: "World History"},
			},
		})
	})
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(Session{ID: "sess-new", Name: in["name"]})
	})
	mux.HandleFunc("GET /v1/sessions/sess-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Session{ID: "sess-1", Name: "Biology 101"})
	})
	deleted := false
	mux.HandleFunc("DELETE /v1/sessions/sess-1", func(w http.ResponseWriter, r *http.Request) {
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	})

	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	t.Run("list", func(t *testing.T) {
		sessions, err := c.ListSessions(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "Biology 101", sessions[0].Name)
		assert.Equal(t, 55, sessions[0].ChunkCount)
	})

	t.Run("create", func(t *testing.T) {
		s, err := c.CreateSession(ctx, "Chemistry")
		require.NoError(t, err)
		assert.Equal(t, "sess-new", s.ID)
		assert.Equal(t, "Chemistry", s.Name)
	})

	t.Run("create requires name", func(t *testing.T) {
		_, err := c.CreateSession(ctx, "  ")
		assert.Error(t, err)
	})

	t.Run("get", func(t *testing.T) {
		s, err := c.GetSession(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, "Biology 101", s.Name)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, c.DeleteSession(ctx, "sess-1"))
		assert.True(t, deleted)
	})
}

func TestAPIErrorUsesBackendMessage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error": {"code": "DUPLICATE", "message": "session name already in use"}}`))
	}))

	_, err := c.CreateSession(context.Background(), "Biology 101")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session name already in use")
}

func TestListChunks(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions/sess-1/chunks", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "50", r.URL.Query().Get("offset"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chunks": []Chunk{{ID: "ch-1", Document: "syllabus.pdf", Position: 0, Content: "Week one covers..."}},
			"total":  128,
		})
	}))

	chunks, total, err := c.ListChunks(context.Background(), "sess-1", 25, 50)
	require.NoError(t, err)
	assert.Equal(t, 128, total)
	require.Len(t, chunks, 1)
	assert.Equal(t, "syllabus.pdf", chunks[0].Document)
}

func TestRAGSettingsRoundTrip(t *testing.T) {
	var gotUpdate RAGSettings
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sessions/sess-1/rag", func(w http.ResponseWriter, r *http.Request) {
		topK := 5
		_ = json.NewEncoder(w).Encode(RAGSettings{TopK: &topK})
	})
	mux.HandleFunc("PUT /v1/sessions/sess-1/rag", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotUpdate))
		_ = json.NewEncoder(w).Encode(gotUpdate)
	})

	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	settings, err := c.GetRAGSettings(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, settings.TopK)
	assert.Equal(t, 5, *settings.TopK)

	topK := 8
	temp := 0.2
	updated, err := c.UpdateRAGSettings(ctx, "sess-1", RAGSettings{TopK: &topK, Temperature: &temp})
	require.NoError(t, err)
	require.NotNil(t, gotUpdate.TopK)
	assert.Equal(t, 8, *gotUpdate.TopK)
	assert.Nil(t, gotUpdate.SystemPrompt, "unset fields must not be sent")
	assert.Equal(t, 0.2, *updated.Temperature)
}

func TestListModels(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []Model{
				{ID: "embed-small", Name: "Embed Small", Kind: "embedding"},
				{ID: "chat-large", Name: "Chat Large", Kind: "chat"},
			},
		})
	}))

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "embedding", models[0].Kind)
}

func TestUploadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syllabus.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0644))

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions/sess-1/documents", r.URL.Path)
		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		assert.Equal(t, "syllabus.pdf", header.Filename)
		_ = json.NewEncoder(w).Encode(UploadReceipt{DocumentID: "doc-7", Filename: header.Filename})
	}))

	receipt, err := c.UploadDocument(context.Background(), "sess-1", path)
	require.NoError(t, err)
	assert.Equal(t, "doc-7", receipt.DocumentID)
	assert.Equal(t, "syllabus.pdf", receipt.Filename)
}

func TestUploadDocumentMissingFile(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for a missing file")
	}))

	_, err := c.UploadDocument(context.Background(), "sess-1", filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestStartIngestion(t *testing.T) {
	t.Run("returns job id", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/sessions/sess-1/ingestions", r.URL.Path)
			var opts IngestOptions
			require.NoError(t, json.NewDecoder(r.Body).Decode(&opts))
			assert.Equal(t, 800, opts.ChunkSize)
			_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "job-99"})
		}))

		jobID, err := c.StartIngestion(context.Background(), "sess-1", IngestOptions{ChunkSize: 800})
		require.NoError(t, err)
		assert.Equal(t, "job-99", jobID)
	})

	t.Run("empty job id is an error", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{})
		}))

		_, err := c.StartIngestion(context.Background(), "sess-1", IngestOptions{})
		assert.Error(t, err)
	})
}

package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/akash/amount-extractor/backend/internal/middleware"
	"github.com/akash/amount-extractor/backend/internal/models"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ResultStore defines the interface for result persistence.
type ResultStore interface {
	InsertResult(ctx context.Context, userID int64, pipeline json.RawMessage) (*models.Result, error)
	ListResultsByUser(ctx context.Context, userID int64) ([]models.Result, error)
}

// Archiver stores the full upstream response document.
type Archiver interface {
	Insert(ctx context.Context, userID, resultID int64, uploadKey string, body []byte) error
}

// FileStore retains the raw uploaded file.
type FileStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Cache holds serialized /results responses per user.
type Cache interface {
	Get(ctx context.Context, userID int64) ([]byte, error)
	Set(ctx context.Context, userID int64, payload []byte) error
	Invalidate(ctx context.Context, userID int64) error
}

// Handler holds the processing proxy and result query handlers. The archive,
// file and cache collaborators are optional; a nil value disables that
// side channel.
type Handler struct {
	results ResultStore
	client  *Client
	archive Archiver
	files   FileStore
	cache   Cache
}

func NewHandler(results ResultStore, client *Client, archive Archiver, files FileStore, cache Cache) *Handler {
	return &Handler{results: results, client: client, archive: archive, files: files, cache: cache}
}

// processingFailed is the single failure surface of the proxy. The caller
// cannot tell a network failure from a malformed upstream body from a
// persistence failure; the distinction only appears in the logs.
func processingFailed(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to process stepwise"})
}

// Process forwards the uploaded file to the OCR service, records the returned
// pipeline against the authenticated user and relays the upstream body. One
// attempt, no retry: if persistence fails after a successful forward the
// computed result is lost.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		log.Printf("process_image_stepwise: read upload: %v", err)
		processingFailed(w)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		log.Printf("process_image_stepwise: read upload: %v", err)
		processingFailed(w)
		return
	}

	body, err := h.client.ProcessImageStepwise(header.Filename, bytes.NewReader(data))
	if err != nil {
		log.Printf("process_image_stepwise: forward: %v", err)
		processingFailed(w)
		return
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("process_image_stepwise: decode upstream body: %v", err)
		processingFailed(w)
		return
	}
	pipeline, ok := payload["pipeline"]
	if !ok {
		log.Printf("process_image_stepwise: upstream body has no pipeline field")
		processingFailed(w)
		return
	}

	result, err := h.results.InsertResult(r.Context(), ident.ID, pipeline)
	if err != nil {
		log.Printf("process_image_stepwise: insert result: %v", err)
		processingFailed(w)
		return
	}

	// Side channels below are best effort: logged and skipped on failure so
	// the client-visible contract stays unchanged.
	uploadKey := ""
	if h.files != nil {
		uploadKey = uploadObjectKey(ident.ID, header.Filename)
		ct := header.Header.Get("Content-Type")
		if err := h.files.Put(r.Context(), uploadKey, data, ct); err != nil {
			log.Printf("process_image_stepwise: retain upload: %v", err)
			uploadKey = ""
		}
	}
	if h.archive != nil {
		if err := h.archive.Insert(r.Context(), ident.ID, result.ID, uploadKey, body); err != nil {
			log.Printf("process_image_stepwise: archive response: %v", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context(), ident.ID); err != nil {
			log.Printf("process_image_stepwise: invalidate cache: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// Results returns the caller's results, newest first.
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if h.cache != nil {
		if cached, err := h.cache.Get(r.Context(), ident.ID); err != nil {
			log.Printf("results: cache read: %v", err)
		} else if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Write(cached)
			return
		}
	}

	results, err := h.results.ListResultsByUser(r.Context(), ident.ID)
	if err != nil {
		log.Printf("results: list: %v", err)
		http.Error(w, `{"error":"database error"}`, http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []models.Result{}
	}

	payload, err := json.Marshal(results)
	if err != nil {
		http.Error(w, `{"error":"database error"}`, http.StatusInternalServerError)
		return
	}
	if h.cache != nil {
		if err := h.cache.Set(r.Context(), ident.ID, payload); err != nil {
			log.Printf("results: cache write: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

// uploadObjectKey mirrors the original gateway's habit of keeping every
// upload: one object per request, keyed by owner.
func uploadObjectKey(userID int64, filename string) string {
	return strconv.FormatInt(userID, 10) + "/" + uuid.New().String() + filepath.Ext(filename)
}

package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akash/amount-extractor/backend/internal/middleware"
	"github.com/akash/amount-extractor/backend/internal/models"
)

type insertCall struct {
	userID   int64
	pipeline json.RawMessage
}

type fakeResultStore struct {
	inserts   []insertCall
	insertErr error

	listed  []int64
	results []models.Result
	listErr error
}

func (s *fakeResultStore) InsertResult(_ context.Context, userID int64, pipeline json.RawMessage) (*models.Result, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.inserts = append(s.inserts, insertCall{userID: userID, pipeline: pipeline})
	return &models.Result{ID: int64(len(s.inserts)), UserID: userID, Pipeline: pipeline, CreatedAt: time.Now()}, nil
}

func (s *fakeResultStore) ListResultsByUser(_ context.Context, userID int64) ([]models.Result, error) {
	s.listed = append(s.listed, userID)
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.results, nil
}

type fakeArchiver struct {
	calls int
	err   error
}

func (a *fakeArchiver) Insert(_ context.Context, _, _ int64, _ string, _ []byte) error {
	a.calls++
	return a.err
}

type fakeCache struct {
	cached      []byte
	getErr      error
	sets        [][]byte
	invalidated []int64
}

func (c *fakeCache) Get(_ context.Context, _ int64) ([]byte, error) { return c.cached, c.getErr }
func (c *fakeCache) Set(_ context.Context, _ int64, payload []byte) error {
	c.sets = append(c.sets, payload)
	return nil
}
func (c *fakeCache) Invalidate(_ context.Context, userID int64) error {
	c.invalidated = append(c.invalidated, userID)
	return nil
}

var testIdentity = models.Identity{ID: 42, Username: "ann"}

// multipartUpload builds an authenticated multipart request with a single
// "file" field.
func multipartUpload(t *testing.T, field string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, "receipt.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake png bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/process_image_stepwise", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req.WithContext(middleware.WithIdentity(req.Context(), testIdentity))
}

func TestProcess_Success(t *testing.T) {
	upstreamBody := `{"pipeline":[{"stage":"ocr","raw_tokens":["1200"],"confidence":0.91}],"status":"ok"}`
	var upstreamHits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(upstreamBody))
	}))
	defer upstream.Close()

	store := &fakeResultStore{}
	archive := &fakeArchiver{}
	cache := &fakeCache{}
	h := NewHandler(store, NewClient(upstream.URL), archive, nil, cache)

	rec := httptest.NewRecorder()
	h.Process(rec, multipartUpload(t, "file"))

	assert.Equal(t, http.StatusOK, rec.Code)
	// The upstream body is relayed verbatim.
	assert.Equal(t, upstreamBody, rec.Body.String())
	assert.Equal(t, 1, upstreamHits)

	// Exactly one result row, owned by the caller, holding the serialized
	// pipeline field.
	require.Len(t, store.inserts, 1)
	assert.Equal(t, testIdentity.ID, store.inserts[0].userID)
	assert.JSONEq(t, `[{"stage":"ocr","raw_tokens":["1200"],"confidence":0.91}]`, string(store.inserts[0].pipeline))

	assert.Equal(t, 1, archive.calls)
	assert.Equal(t, []int64{testIdentity.ID}, cache.invalidated)
}

func TestProcess_UpstreamStatusIgnored(t *testing.T) {
	// A JSON error body from the upstream still counts as a result, exactly
	// like the original gateway.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"pipeline":[],"problem":"confidence is too low cant proceed futher"}`))
	}))
	defer upstream.Close()

	store := &fakeResultStore{}
	h := NewHandler(store, NewClient(upstream.URL), nil, nil, nil)

	rec := httptest.NewRecorder()
	h.Process(rec, multipartUpload(t, "file"))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.inserts, 1)
	assert.JSONEq(t, `[]`, string(store.inserts[0].pipeline))
}

func TestProcess_FailuresCollapseToGenericError(t *testing.T) {
	nonJSON := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>Internal Server Error</html>"))
	}))
	defer nonJSON.Close()

	noPipeline := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer noPipeline.Close()

	unreachable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachable.Close()

	cases := []struct {
		name string
		url  string
	}{
		{"upstream body is not JSON", nonJSON.URL},
		{"upstream body has no pipeline field", noPipeline.URL},
		{"upstream unreachable", unreachable.URL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeResultStore{}
			h := NewHandler(store, NewClient(tc.url), nil, nil, nil)

			rec := httptest.NewRecorder()
			h.Process(rec, multipartUpload(t, "file"))

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, `{"error":"Failed to process stepwise"}`, rec.Body.String())
			assert.Empty(t, store.inserts)
		})
	}
}

func TestProcess_PersistFailureAfterForwardLosesResult(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pipeline":[{"stage":"ocr"}]}`))
	}))
	defer upstream.Close()

	store := &fakeResultStore{insertErr: errors.New("connection refused")}
	h := NewHandler(store, NewClient(upstream.URL), nil, nil, nil)

	rec := httptest.NewRecorder()
	h.Process(rec, multipartUpload(t, "file"))

	// The forward succeeded but the caller still sees the one generic
	// failure; the computed result is gone.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to process stepwise"}`, rec.Body.String())
}

func TestProcess_MissingFileField(t *testing.T) {
	var upstreamHits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
	}))
	defer upstream.Close()

	store := &fakeResultStore{}
	h := NewHandler(store, NewClient(upstream.URL), nil, nil, nil)

	rec := httptest.NewRecorder()
	h.Process(rec, multipartUpload(t, "attachment"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to process stepwise"}`, rec.Body.String())
	assert.Zero(t, upstreamHits)
	assert.Empty(t, store.inserts)
}

func TestProcess_ArchiveFailureIsNonFatal(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pipeline":[{"stage":"ocr"}]}`))
	}))
	defer upstream.Close()

	store := &fakeResultStore{}
	archive := &fakeArchiver{err: errors.New("mongo down")}
	h := NewHandler(store, NewClient(upstream.URL), archive, nil, nil)

	rec := httptest.NewRecorder()
	h.Process(rec, multipartUpload(t, "file"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, store.inserts, 1)
}

func authedGet(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	return req.WithContext(middleware.WithIdentity(req.Context(), testIdentity))
}

func TestResults_NewestFirstForOwnerOnly(t *testing.T) {
	now := time.Now()
	store := &fakeResultStore{results: []models.Result{
		{ID: 2, UserID: testIdentity.ID, Pipeline: json.RawMessage(`[{"stage":"llm"}]`), CreatedAt: now},
		{ID: 1, UserID: testIdentity.ID, Pipeline: json.RawMessage(`[{"stage":"ocr"}]`), CreatedAt: now.Add(-time.Minute)},
	}}
	h := NewHandler(store, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.Results(rec, authedGet("/results"))

	require.Equal(t, http.StatusOK, rec.Code)
	// The store is queried for the caller's id only.
	assert.Equal(t, []int64{testIdentity.ID}, store.listed)

	var got []struct {
		ID       int64           `json:"id"`
		Pipeline json.RawMessage `json:"pipeline"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)
	// user_id is never echoed back.
	assert.NotContains(t, rec.Body.String(), "user_id")
}

func TestResults_EmptyHistory(t *testing.T) {
	store := &fakeResultStore{}
	h := NewHandler(store, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.Results(rec, authedGet("/results"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestResults_StoreFailure(t *testing.T) {
	store := &fakeResultStore{listErr: errors.New("connection refused")}
	h := NewHandler(store, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.Results(rec, authedGet("/results"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResults_CacheHitSkipsStore(t *testing.T) {
	store := &fakeResultStore{listErr: errors.New("should not be reached")}
	cache := &fakeCache{cached: []byte(`[{"id":1,"pipeline":[],"created_at":"2026-01-01T00:00:00Z"}]`)}
	h := NewHandler(store, nil, nil, nil, cache)

	rec := httptest.NewRecorder()
	h.Results(rec, authedGet("/results"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(cache.cached), rec.Body.String())
	assert.Empty(t, store.listed)
}

func TestResults_CacheErrorFallsThrough(t *testing.T) {
	store := &fakeResultStore{}
	cache := &fakeCache{getErr: errors.New("redis down")}
	h := NewHandler(store, nil, nil, nil, cache)

	rec := httptest.NewRecorder()
	h.Results(rec, authedGet("/results"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Len(t, store.listed, 1)
}

func TestResults_MissesArePopulatedIntoCache(t *testing.T) {
	store := &fakeResultStore{results: []models.Result{
		{ID: 1, UserID: testIdentity.ID, Pipeline: json.RawMessage(`[]`), CreatedAt: time.Now()},
	}}
	cache := &fakeCache{}
	h := NewHandler(store, nil, nil, nil, cache)

	rec := httptest.NewRecorder()
	h.Results(rec, authedGet("/results"))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, cache.sets, 1)
	assert.Equal(t, rec.Body.String(), string(cache.sets[0]))
}

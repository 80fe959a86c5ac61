package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-chat-platform/internal/ai/mock"
	"document-chat-platform/internal/blob"
	"document-chat-platform/internal/chunking"
	"document-chat-platform/internal/config"
	"document-chat-platform/internal/embedding"
	"document-chat-platform/internal/extraction"
	"document-chat-platform/internal/ingest"
	"document-chat-platform/internal/queue"
	"document-chat-platform/internal/retrieval"
	"document-chat-platform/internal/session"
	"document-chat-platform/internal/store"
	"document-chat-platform/internal/usage"
	"document-chat-platform/models"
	"document-chat-platform/services"
	"document-chat-platform/utils"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

type testServer struct {
	router *gin.Engine
	store  *store.MemoryStore
	queue  *fakeQueue
	blobs  *blob.Disk
	chat   *mock.Chat
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	emb := mock.NewEmbedder(8)

	pipeline := extraction.NewPipeline(nil, nil,
		extraction.NewDigitalText(10, nil, nil),
		extraction.NewWordDocument(),
	)
	vc, err := embedding.NewVectorCache(100, time.Hour, nil)
	require.NoError(t, err)
	gen := embedding.NewGenerator(emb, vc, st, embedding.Options{}, nil, nil)
	meter := usage.NewMeter(st, st, usage.DefaultPrices(), nil)
	docs := services.NewDocumentService(st, pipeline, chunking.New(1000, 200), gen, meter, nil)
	sessions := session.NewManager(st, session.Options{}, nil)
	chatModel := mock.NewChat("Revenue grew twelve percent.")
	chat := services.NewChatService(sessions, docs, retrieval.NewRetriever(gen, st, 0.5, 40, nil), chatModel, meter, 5, nil)

	blobs, err := blob.NewDisk(t.TempDir())
	require.NoError(t, err)
	q := &fakeQueue{}

	cfg := &config.Config{
		JWTSecret:       testSecret,
		GinMode:         "test",
		CORSOrigins:     []string{"http://localhost:3000"},
		MaxFileSize:     1 << 20,
		RateLimitReqs:   100,
		RateLimitWindow: 60,
	}
	router := SetupRouter(Deps{
		Config:    cfg,
		Documents: docs,
		Chat:      chat,
		Usage:     services.NewUsageReportService(meter, nil),
		Blobs:     blobs,
		Queue:     q,
		Health: map[string]Pinger{
			"mongo": func(context.Context) error { return nil },
		},
	})
	return &testServer{router: router, store: st, queue: q, blobs: blobs, chat: chatModel}
}

func token(t *testing.T, owner string) string {
	t.Helper()
	tok, err := utils.GenerateJWT(owner, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

type part struct {
	field, filename string
	data            []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := w.CreateFormFile(f.field, f.filename)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (s *testServer) do(t *testing.T, method, path, owner string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, owner))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) upload(t *testing.T, owner, filename, text string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, nil, part{"file", filename, []byte(text)})
	return s.do(t, http.MethodPost, "/api/documents", owner, body, ct)
}

const notes = "Quarterly revenue grew twelve percent across all regions. Operating costs were flat."

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealth_DegradedDependency(t *testing.T) {
	router := gin.New()
	SetupHealthRoutes(router, map[string]Pinger{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestAPI_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/documents", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_token")
}

func TestDocuments_UploadReuseListGetDelete(t *testing.T) {
	s := newTestServer(t)

	rec := s.upload(t, "alice", "notes.txt", notes)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first models.IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, ingest.HashBytes([]byte(notes)), first.ContentHash)
	assert.False(t, first.Reused)
	assert.Equal(t, 1, first.Chunks)

	rec = s.upload(t, "alice", "copy.txt", notes)
	require.Equal(t, http.StatusOK, rec.Code)
	var second models.IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.True(t, second.Reused)
	assert.Equal(t, first.ContentHash, second.ContentHash)

	rec = s.do(t, http.MethodGet, "/api/documents", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = s.do(t, http.MethodGet, "/api/documents", "bob", nil, "")
	assert.Contains(t, rec.Body.String(), `"count":0`)

	rec = s.do(t, http.MethodGet, "/api/documents/"+first.ContentHash, "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Quarterly revenue")

	rec = s.do(t, http.MethodDelete, "/api/documents/"+first.ContentHash, "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/documents/"+first.ContentHash, "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "document_not_found")
}

func TestDocuments_Rejections(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/documents", "alice", &bytes.Buffer{}, "multipart/form-data; boundary=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.upload(t, "alice", "empty.txt", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "empty_file")

	body, ct := multipartBody(t, nil, part{"file", "blob.bin", []byte{0x00, 0x01, 0x02, 0xff, 0xfe}})
	rec = s.do(t, http.MethodPost, "/api/documents", "alice", body, ct)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	big := strings.Repeat("a", 1<<20+1)
	rec = s.upload(t, "alice", "big.txt", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDocuments_AsyncUploadEnqueues(t *testing.T) {
	s := newTestServer(t)

	body, ct := multipartBody(t, nil, part{"file", "notes.txt", []byte(notes)})
	rec := s.do(t, http.MethodPost, "/api/documents?async=true", "alice", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp models.IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Queued)
	assert.Equal(t, "task-1", resp.TaskID)

	require.Len(t, s.queue.tasks, 1)
	var payload queue.IngestPayload
	require.NoError(t, json.Unmarshal(s.queue.tasks[0].Payload(), &payload))
	assert.Equal(t, "alice", payload.Owner)
	assert.Equal(t, "notes.txt", payload.Filename)

	stored, err := s.blobs.Get(context.Background(), payload.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, notes, string(stored))
}

func TestDocuments_AsyncEnqueueFailure(t *testing.T) {
	s := newTestServer(t)
	s.queue.err = errors.New("redis down")

	body, ct := multipartBody(t, nil, part{"file", "notes.txt", []byte(notes)})
	rec := s.do(t, http.MethodPost, "/api/documents?async=1", "alice", body, ct)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "queue_error")
}

func TestChat_StreamsTokensThenDone(t *testing.T) {
	s := newTestServer(t)

	body, ct := multipartBody(t, map[string]string{"prompt": "How much did revenue grow?"},
		part{"files", "notes.txt", []byte(notes)})
	rec := s.do(t, http.MethodPost, "/api/chat", "alice", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Contains(t, out, "event:token")
	require.Contains(t, out, "event:done")
	assert.Less(t, strings.Index(out, "event:token"), strings.Index(out, "event:done"))

	done := out[strings.Index(out, "event:done"):]
	data := strings.TrimSpace(strings.TrimPrefix(strings.SplitN(done, "\n", 3)[1], "data:"))
	var result models.ChatTurnResponse
	require.NoError(t, json.Unmarshal([]byte(data), &result))
	assert.Equal(t, "Revenue grew twelve percent.", result.Response)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, []string{ingest.HashBytes([]byte(notes))}, result.DocumentHashes)

	rec = s.do(t, http.MethodGet, "/api/sessions/"+result.SessionID, "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sess models.ChatSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, 1, sess.Metrics.MessageCount)

	rec = s.do(t, http.MethodGet, "/api/sessions", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "How much did revenue grow?")

	rec = s.do(t, http.MethodDelete, "/api/sessions/"+result.SessionID, "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/sessions/"+result.SessionID, "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChat_EmptyPrompt(t *testing.T) {
	s := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{"prompt": "   "})
	rec := s.do(t, http.MethodPost, "/api/chat", "alice", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "empty_prompt")
}

func TestChat_BadAttachmentIsWarning(t *testing.T) {
	s := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{"prompt": "hello"},
		part{"files[]", "blob.bin", []byte{0x00, 0x01, 0xff}})
	rec := s.do(t, http.MethodPost, "/api/chat", "alice", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, "event:warning")
	assert.Contains(t, out, "blob.bin")
	assert.Contains(t, out, "event:done")
}

func TestUsage_SummaryAndExport(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.upload(t, "alice", "notes.txt", notes).Code)
	require.Equal(t, http.StatusOK, s.upload(t, "alice", "notes.txt", notes).Code)

	rec := s.do(t, http.MethodGet, "/api/usage?since=7d", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.UsageSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "alice", summary.Owner)
	assert.NotEmpty(t, summary.Lines)
	assert.Greater(t, summary.SavedCost, 0.0)

	rec = s.do(t, http.MethodGet, "/api/usage/export", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(-7*24*time.Hour), parseSince("7d", now))
	assert.Equal(t, now.Add(-15*24*time.Hour), parseSince("15d", now))
	assert.Equal(t, now.Add(-30*24*time.Hour), parseSince("", now))
	assert.Equal(t, now.Add(-30*24*time.Hour), parseSince("bogus", now))

	ts := "2026-01-02T03:04:05Z"
	want, _ := time.Parse(time.RFC3339, ts)
	assert.Equal(t, want, parseSince(ts, now))
}

type countingRedis struct {
	redis.Cmdable
	mu     sync.Mutex
	counts map[string]int64
}

func (r *countingRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[key]++
	return redis.NewIntResult(r.counts[key], nil)
}

func (r *countingRedis) Expire(context.Context, string, time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func TestAPI_IPLimitAppliesBeforeAuth(t *testing.T) {
	rdb := &countingRedis{counts: map[string]int64{}}
	router := SetupRouter(Deps{
		Config: &config.Config{
			JWTSecret:       testSecret,
			GinMode:         "test",
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimitIPReqs: 2,
			RateLimitReqs:   100,
			RateLimitWindow: 60,
		},
		Redis: rdb,
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
		req.RemoteAddr = "198.51.100.4:5000"
		req.Header.Set("X-Forwarded-For", "203.0.113.1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
	assert.Equal(t, int64(3), rdb.counts["ratelimit:ip:198.51.100.4"], "forwarding headers ignored without trust")
}

func TestMemory_ListAndClear(t *testing.T) {
	s := newTestServer(t)

	for _, p := range []string{"first question", "second question"} {
		body, ct := multipartBody(t, map[string]string{"prompt": p, "task": "file Q&A"})
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/chat", "alice", body, ct).Code)
	}

	rec := s.do(t, http.MethodGet, "/api/memory?limit=1", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Memories []models.MemoryEntry `json:"memories"`
		Count    int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, "second question", listed.Memories[0].Prompt)
	assert.Equal(t, "file Q&A", listed.Memories[0].Task)

	rec = s.do(t, http.MethodGet, "/api/memory?limit=zero", "alice", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/memory", "bob", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"turns_cleared":0`)

	rec = s.do(t, http.MethodDelete, "/api/memory", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cleared 2 memories")

	rec = s.do(t, http.MethodGet, "/api/memory", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

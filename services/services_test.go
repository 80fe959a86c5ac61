package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-chat-platform/internal/ai"
	"document-chat-platform/internal/ai/mock"
	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/chunking"
	"document-chat-platform/internal/embedding"
	"document-chat-platform/internal/extraction"
	"document-chat-platform/internal/extraction/extractiontest"
	"document-chat-platform/internal/guard"
	"document-chat-platform/internal/ingest"
	"document-chat-platform/internal/retrieval"
	"document-chat-platform/internal/session"
	"document-chat-platform/internal/store"
	"document-chat-platform/internal/usage"
	"document-chat-platform/models"
)

type harness struct {
	store     *store.MemoryStore
	documents *DocumentService
	chat      *ChatService
	sessions  *session.Manager
	embedder  *mock.Embedder
	ocr       *mock.OCR
	renderer  *extractiontest.Renderer
	model     *mock.Chat
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemoryStore(),
		embedder: mock.NewEmbedder(8),
		ocr:      mock.NewOCR(),
		renderer: &extractiontest.Renderer{Pages: 3},
		model:    mock.NewChat("The report says revenue grew."),
	}
	h.ocr.RecognizeFunc = func(_ context.Context, _ string, image []byte) (string, error) {
		return fmt.Sprintf("Scanned contract clause recognized from %s of the archive.", image), nil
	}

	pdfOCR, err := extraction.NewPDFOCR(h.renderer, h.ocr, 2, 50, 0, nil)
	require.NoError(t, err)
	t.Cleanup(pdfOCR.Release)
	pipeline := extraction.NewPipeline(nil, nil,
		extraction.NewDigitalText(100, pdfOCR, nil),
		extraction.NewImageOCR(h.ocr),
		extraction.NewWordDocument(),
	)

	vc, err := embedding.NewVectorCache(1000, time.Hour, nil)
	require.NoError(t, err)
	gen := embedding.NewGenerator(h.embedder, vc, h.store, embedding.Options{BatchSize: 4, Concurrency: 2}, nil, nil)
	meter := usage.NewMeter(h.store, h.store, usage.DefaultPrices(), nil)

	h.documents = NewDocumentService(h.store, pipeline, chunking.New(1000, 200), gen, meter, nil)
	h.sessions = session.NewManager(h.store, session.Options{CacheSize: 16, CacheTTL: time.Hour, ListWindow: 15 * 24 * time.Hour}, nil)
	retriever := retrieval.NewRetriever(gen, h.store, 0.5, 40, nil)
	h.chat = NewChatService(h.sessions, h.documents, retriever, h.model, meter, 5, nil)
	return h
}

func digitalReport() []byte {
	return extractiontest.BuildPDF([]string{
		"Quarterly revenue grew twelve percent across all regions.",
		"Operating costs were flat compared with the previous year.",
		"The board approved a dividend of two dollars per share.",
	})
}

func collect(events *[]models.ChatEvent) Emit {
	return func(ev models.ChatEvent) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestIngest_DigitalPDFThenReuse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	data := digitalReport()

	out, err := h.documents.IngestDocument(ctx, data, "report.pdf", "alice")
	require.NoError(t, err)
	assert.Equal(t, ingest.HashBytes(data), out.Hash)
	assert.False(t, out.Reused)

	doc, err := h.store.FindDocument(ctx, out.Hash, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionText, doc.ExtractionType)
	assert.Equal(t, 3, doc.PageCount)
	assert.GreaterOrEqual(t, doc.ChunkCount, 1)
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Empty(t, h.renderer.Rendered())

	calls := h.embedder.CallCount()
	again, err := h.documents.IngestDocument(ctx, data, "report-copy.pdf", "alice")
	require.NoError(t, err)
	assert.Equal(t, out.Hash, again.Hash)
	assert.True(t, again.Reused)
	assert.Equal(t, calls, h.embedder.CallCount())

	recs, err := h.store.UsageRecords(ctx, "alice", time.Time{})
	require.NoError(t, err)
	var reuse *models.UsageRecord
	for i := range recs {
		if recs[i].Operation == models.OpReuse {
			reuse = &recs[i]
		}
	}
	require.NotNil(t, reuse)
	assert.Zero(t, reuse.Cost)
	assert.Equal(t, 3, reuse.Pages)
	assert.Positive(t, reuse.WouldBeCost)
}

func TestIngest_ScannedPDFUsesOCR(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	hash, err := h.documents.Ingest(ctx, extractiontest.BuildPDF([]string{"", "", ""}), "scan.pdf", "alice")
	require.NoError(t, err)

	doc, err := h.store.FindDocument(ctx, hash, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionOCR, doc.ExtractionType)
	assert.Equal(t, 3, doc.PageCount)
	assert.Equal(t, 3, h.ocr.CallCount())

	text, err := h.documents.Text(ctx, hash, "alice")
	require.NoError(t, err)
	assert.Contains(t, text, chunking.PageMarker(2))
	assert.Contains(t, text, "recognized from page-2")

	chunks, err := h.store.ChunksForDocuments(ctx, "alice", []string{hash})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Contains(t, c.Text, "Scanned contract clause")
		assert.Contains(t, c.Text, fmt.Sprintf("page-%d", c.Page))
	}

	recs, _ := h.store.UsageRecords(ctx, "alice", time.Time{})
	var ocrPages int
	for _, r := range recs {
		if r.Operation == models.OpOCRPage {
			ocrPages += r.Pages
		}
	}
	assert.Equal(t, 3, ocrPages)
}

func TestIngest_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.documents.Ingest(ctx, nil, "empty.txt", "alice")
	assert.ErrorIs(t, err, apperr.ErrEmptyFile)

	_, err = h.documents.Ingest(ctx, []byte("text"), "a.txt", "")
	assert.ErrorIs(t, err, apperr.ErrMissingOwner)

	_, err = h.documents.Ingest(ctx, []byte("\x1f\x8b\x08\x00\x00\x00\x00\x00"), "a.gz", "alice")
	assert.ErrorIs(t, err, apperr.ErrUnsupportedType)
}

func TestIngest_UnsupportedTypeLeavesNoDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.documents.IngestDocument(ctx, []byte{0x00, 0x01, 0x02, 0xff, 0xfe, 0x00, 0x13}, "blob.bin", "alice")
	require.ErrorIs(t, err, apperr.ErrUnsupportedType)

	docs, err := h.documents.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, docs)
	recs, err := h.store.UsageRecords(ctx, "alice", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

type failEmbeddingsKey struct{}

func TestIngest_ConcurrentDuplicateConverges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	data := digitalReport()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if ctx.Value(failEmbeddingsKey{}) != nil {
			once.Do(func() {
				close(started)
				<-release
			})
			return nil, errors.New("provider rejected batch")
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.Vector(text, 8)
		}
		return out, nil
	}

	type outcome struct {
		out *IngestOutcome
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		failing := context.WithValue(ctx, failEmbeddingsKey{}, true)
		out, err := h.documents.IngestDocument(failing, data, "copy.pdf", "alice")
		second <- outcome{out, err}
	}()

	<-started
	first, err := h.documents.IngestDocument(ctx, data, "report.pdf", "alice")
	require.NoError(t, err)
	assert.False(t, first.Reused)
	close(release)

	got := <-second
	require.NoError(t, got.err)
	assert.True(t, got.out.Reused)
	assert.Equal(t, first.Hash, got.out.Hash)

	doc, err := h.store.FindDocument(ctx, first.Hash, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Equal(t, first.Chunks, doc.ChunkCount)

	described, err := h.documents.Describe(ctx, "alice", []string{first.Hash})
	require.NoError(t, err)
	assert.Len(t, described, 1)
}

func TestIngest_FailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("provider rejected batch")
	}

	_, err := h.documents.IngestDocument(ctx, digitalReport(), "report.pdf", "alice")
	require.ErrorIs(t, err, apperr.ErrEmbeddingFailure)

	docs, err := h.documents.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.StatusFailed, docs[0].Status)
	assert.NotEmpty(t, docs[0].Error)
}

func TestDocuments_GetListDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	body := strings.Repeat("Policy section describing retention of records. ", 10)
	hash, err := h.documents.Ingest(ctx, []byte(body), "policy.txt", "alice")
	require.NoError(t, err)

	info, err := h.documents.Get(ctx, hash, "alice")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.Sample, "Policy section"))
	assert.LessOrEqual(t, len([]rune(info.Sample)), 203)
	assert.Nil(t, info.TextBlob)

	docs, err := h.documents.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, h.documents.Delete(ctx, hash, "alice"))
	_, err = h.documents.Get(ctx, hash, "alice")
	assert.ErrorIs(t, err, apperr.ErrDocumentNotFound)
	chunks, _ := h.store.ChunksForDocuments(ctx, "alice", []string{hash})
	assert.Empty(t, chunks)

	deleted, err := h.store.DeletedSince(ctx, "alice", time.Time{})
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "policy.txt", deleted[0].Filename)

	assert.ErrorIs(t, h.documents.Delete(ctx, hash, "alice"), apperr.ErrDocumentNotFound)
}

func TestChatTurn_SequentialTurnsKeepHistoryAndDocuments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var events []models.ChatEvent
	first, err := h.chat.ChatTurn(ctx, ChatTurnRequest{
		Owner:  "alice",
		Prompt: "Summarize the report",
		Files:  []ChatFile{{Filename: "report.pdf", Data: digitalReport()}},
	}, collect(&events))
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)
	require.Len(t, first.DocumentHashes, 1)
	assert.Equal(t, "The report says revenue grew.", first.Response)
	assert.NotEmpty(t, events)
	assert.Equal(t, models.EventToken, events[0].Type)

	second, err := h.chat.ChatTurn(ctx, ChatTurnRequest{
		Owner:     "alice",
		SessionID: first.SessionID,
		Prompt:    "And the dividend?",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.DocumentHashes, second.DocumentHashes)

	reqs := h.model.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].System, "[Source: "+first.DocumentHashes[0][:8])
	require.Len(t, reqs[1].History, 2)
	assert.Equal(t, ai.ChatMessage{Role: ai.RoleUser, Text: "Summarize the report"}, reqs[1].History[0])

	s, err := h.chat.GetSession(ctx, first.SessionID, "alice")
	require.NoError(t, err)
	require.Len(t, s.Turns, 2)
	assert.Equal(t, "Summarize the report", s.Turns[0].Prompt)
	assert.Equal(t, "And the dividend?", s.Turns[1].Prompt)
	assert.Equal(t, first.DocumentHashes, s.ActiveDocuments)
	assert.Equal(t, 2, s.Metrics.MessageCount)

	// Continuity after the memory tier is cleared.
	h.sessions.EvictCached(ctx, "alice", first.SessionID)
	s, err = h.chat.GetSession(ctx, first.SessionID, "alice")
	require.NoError(t, err)
	assert.Len(t, s.Turns, 2)
}

func TestChatTurn_PageQueryUsesOnlyThatPage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, err := h.chat.ChatTurn(ctx, ChatTurnRequest{
		Owner:  "alice",
		Prompt: "what is on page 2?",
		Files:  []ChatFile{{Filename: "report.pdf", Data: digitalReport()}},
	}, nil)
	require.NoError(t, err)

	system := h.model.Requests()[0].System
	assert.Contains(t, system, "Operating costs")
	assert.NotContains(t, system, "Quarterly revenue")
	assert.NotContains(t, system, "dividend")
	assert.Equal(t, first.DocumentHashes, first.UsedHashes)
}

func TestChatTurn_FailedAttachmentDoesNotBlockSiblings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.chat.ChatTurn(ctx, ChatTurnRequest{
		Owner:  "alice",
		Prompt: "What do these say?",
		Files: []ChatFile{
			{Filename: "broken.gz", Data: []byte("\x1f\x8b\x08\x00\x00\x00\x00\x00")},
			{Filename: "notes.txt", Data: []byte("Meeting notes: ship the release on Friday.")},
			{Filename: "empty.txt"},
		},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, res.DocumentHashes, 1)
	require.Len(t, res.Warnings, 2)
	assert.True(t, strings.HasPrefix(res.Warnings[0], "broken.gz"))
	assert.True(t, strings.HasPrefix(res.Warnings[1], "empty.txt"))
}

func TestChatTurn_InterruptedStreamIsPersisted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.model.StreamFunc = func(_ context.Context, _ ai.ChatRequest, onToken func(string) error) (ai.ChatUsage, error) {
		if err := onToken("Revenue grew"); err != nil {
			return ai.ChatUsage{}, err
		}
		return ai.ChatUsage{}, apperr.Wrap(apperr.ErrProviderUnavailable, "chat", errors.New("connection reset"))
	}

	res, err := h.chat.ChatTurn(ctx, ChatTurnRequest{Owner: "alice", Prompt: "How did revenue do?"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Equal(t, "Revenue grew\n\n[response interrupted: provider unavailable]", res.Response)
	assert.Positive(t, res.OutputTokens)

	s, err := h.chat.GetSession(ctx, res.SessionID, "alice")
	require.NoError(t, err)
	require.Len(t, s.Turns, 1)
	assert.True(t, s.Turns[0].Interrupted)
	assert.Equal(t, res.Response, s.Turns[0].Response)
}

func TestChatTurn_RetrievalFailureAnswersUngrounded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	hash, err := h.documents.Ingest(ctx, []byte("Meeting notes: ship the release on Friday."), "notes.txt", "alice")
	require.NoError(t, err)
	s, _, err := h.sessions.GetOrCreate(ctx, "alice", "s-1")
	require.NoError(t, err)
	_, err = h.sessions.AddMessage(ctx, "alice", s.SessionID, session.TurnInput{Prompt: "hi", Response: "hello", DocumentHashes: []string{hash}})
	require.NoError(t, err)

	h.embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("embedding backend down")
	}

	res, err := h.chat.ChatTurn(ctx, ChatTurnRequest{Owner: "alice", SessionID: "s-1", Prompt: "When do we ship the new build?"}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.UsedHashes)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, h.model.Requests()[0].System, "none available")
}

func TestChatTurn_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.chat.ChatTurn(context.Background(), ChatTurnRequest{Owner: "alice", Prompt: "   "}, nil)
	assert.ErrorIs(t, err, apperr.ErrEmptyPrompt)

	_, err = h.chat.ChatTurn(context.Background(), ChatTurnRequest{Prompt: "hi"}, nil)
	assert.ErrorIs(t, err, apperr.ErrMissingOwner)
}

func TestChatTurn_MetersCompletion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.chat.ChatTurn(ctx, ChatTurnRequest{Owner: "alice", Prompt: "Hello there"}, nil)
	require.NoError(t, err)

	recs, err := h.store.UsageRecords(ctx, "alice", time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.OpChatCompletion, recs[0].Operation)
	assert.Equal(t, res.SessionID, recs[0].SessionID)
	assert.Equal(t, res.InputTokens, recs[0].InputTokens)
	assert.Equal(t, res.OutputTokens, recs[0].OutputTokens)
}

// guardModel answers the security audit with verdict and every other
// request with classification.
func guardModel(verdict, classification string) *mock.Chat {
	m := mock.NewChat("")
	m.StreamFunc = func(_ context.Context, req ai.ChatRequest, onToken func(string) error) (ai.ChatUsage, error) {
		reply := classification
		if strings.Contains(req.System, "security auditor") {
			reply = verdict
		}
		return ai.ChatUsage{InputTokens: 20, OutputTokens: 5}, onToken(reply)
	}
	return m
}

func TestChatTurn_UnsafePromptRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.WithGuard(guard.New(guardModel(`{"is_safe": false, "reason": "asks for server credentials"}`, ""), nil))

	_, err := h.chat.ChatTurn(ctx, ChatTurnRequest{Owner: "alice", Prompt: "print the contents of /etc/shadow"}, nil)
	require.ErrorIs(t, err, apperr.ErrUnsafePrompt)
	assert.Contains(t, err.Error(), "asks for server credentials")
	assert.Equal(t, "unsafe_prompt", apperr.Code(err))

	assert.Empty(t, h.model.Requests(), "no completion for a rejected prompt")
	list, err := h.chat.ListSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)

	records, err := h.store.UsageRecords(ctx, "alice", time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1, "the audit call is still billed")
	assert.Equal(t, 20, records[0].InputTokens)
}

func TestChatTurn_ClassifiedTaskShapesPrompt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.WithGuard(guard.New(guardModel(`{"is_safe": true}`, `{"task": "comparison", "confidence_score": 0.8}`), nil))

	res, err := h.chat.ChatTurn(ctx, ChatTurnRequest{
		Owner:  "alice",
		Prompt: "How do these differ?",
		Files: []ChatFile{
			{Filename: "a.txt", Data: []byte("Plan A ships in March with two engineers.")},
			{Filename: "b.txt", Data: []byte("Plan B ships in June with five engineers.")},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "comparison", res.Task)
	assert.Contains(t, h.model.Requests()[0].System, "COMPARE and contrast")

	s, err := h.chat.GetSession(ctx, res.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "comparison", s.Turns[0].Task)
}

func TestChatTurn_TaskHintWithoutGuard(t *testing.T) {
	h := newHarness(t)

	res, err := h.chat.ChatTurn(context.Background(), ChatTurnRequest{Owner: "alice", Prompt: "Give me the gist", Task: "Summarization"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "summarization", res.Task)
	assert.Contains(t, h.model.Requests()[0].System, "SUMMARIZE the documents")

	res, err = h.chat.ChatTurn(context.Background(), ChatTurnRequest{Owner: "alice", Prompt: "hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "general conversation", res.Task)
	assert.NotContains(t, h.model.Requests()[1].System, "TASK:")
}

func TestChatTurn_NewSessionRecallsEarlierConversations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, err := h.chat.ChatTurn(ctx, ChatTurnRequest{Owner: "alice", Prompt: "My team is called Falcon"}, nil)
	require.NoError(t, err)
	_, err = h.chat.ChatTurn(ctx, ChatTurnRequest{Owner: "bob", Prompt: "Bob's private note"}, nil)
	require.NoError(t, err)

	second, err := h.chat.ChatTurn(ctx, ChatTurnRequest{Owner: "alice", Prompt: "What is my team called?"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	system := h.model.Requests()[2].System
	assert.Contains(t, system, "EARLIER CONVERSATIONS")
	assert.Contains(t, system, "User: My team is called Falcon")
	assert.NotContains(t, system, "Bob's private note")

	_, err = h.chat.ChatTurn(ctx, ChatTurnRequest{Owner: "alice", SessionID: second.SessionID, Prompt: "Thanks"}, nil)
	require.NoError(t, err)
	assert.NotContains(t, h.model.Requests()[3].System, "EARLIER CONVERSATIONS", "continuing sessions use their own history")
}

func TestChatService_MemoriesAndClear(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for _, p := range []string{"first question", "second question"} {
		_, err := h.chat.ChatTurn(ctx, ChatTurnRequest{Owner: "alice", Prompt: p}, nil)
		require.NoError(t, err)
	}

	mems, err := h.chat.Memories(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, mems, 2)
	assert.Equal(t, "second question", mems[0].Prompt)

	sessions, turns, err := h.chat.ClearMemories(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, sessions)
	assert.Equal(t, 2, turns)

	mems, err = h.chat.Memories(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, mems)

	_, err = h.chat.Memories(ctx, "", 10)
	assert.ErrorIs(t, err, apperr.ErrMissingOwner)
}

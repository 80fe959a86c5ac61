package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"document-chat-platform/internal/ai"
	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/embedding"
	"document-chat-platform/internal/guard"
	"document-chat-platform/internal/retrieval"
	"document-chat-platform/internal/session"
	"document-chat-platform/internal/usage"
	"document-chat-platform/models"
)

const (
	// Files attached to one chat turn are ingested with this much parallelism.
	turnFileConcurrency = 3
	// Turns from the owner's other sessions carried into a new session.
	recallTurns = 3
)

// ChatFile is a file attached to a chat turn.
type ChatFile struct {
	Filename string
	Data     []byte
}

type ChatTurnRequest struct {
	Owner     string
	SessionID string
	Prompt    string
	Task      string
	Files     []ChatFile
}

// TurnResult is the metadata of a completed (or interrupted) turn.
type TurnResult = models.ChatTurnResponse

// Emit receives stream events in order. Returning an error aborts the turn's
// stream; the partial response is still persisted.
type Emit func(models.ChatEvent) error

type ChatService struct {
	sessions     *session.Manager
	documents    *DocumentService
	retriever    *retrieval.Retriever
	chat         ai.ChatModel
	guard        *guard.Guard
	meter        *usage.Meter
	historyTurns int
	log          *slog.Logger
	now          func() time.Time
}

func NewChatService(
	sessions *session.Manager,
	documents *DocumentService,
	retriever *retrieval.Retriever,
	chat ai.ChatModel,
	meter *usage.Meter,
	historyTurns int,
	log *slog.Logger,
) *ChatService {
	if historyTurns <= 0 {
		historyTurns = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &ChatService{
		sessions:     sessions,
		documents:    documents,
		retriever:    retriever,
		chat:         chat,
		meter:        meter,
		historyTurns: historyTurns,
		log:          log.With("component", "chat"),
		now:          time.Now,
	}
}

// WithGuard screens every prompt with g before the turn runs and routes it
// to a task. Without a guard every prompt is allowed and the task comes from
// the request hint alone.
func (s *ChatService) WithGuard(g *guard.Guard) *ChatService {
	s.guard = g
	return s
}

// ChatTurn runs one exchange: attach files, retrieve context over the
// session's documents, stream the completion and persist the turn.
func (s *ChatService) ChatTurn(ctx context.Context, req ChatTurnRequest, emit Emit) (*TurnResult, error) {
	if req.Owner == "" {
		return nil, apperr.ErrMissingOwner
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, apperr.ErrEmptyPrompt
	}
	if emit == nil {
		emit = func(models.ChatEvent) error { return nil }
	}
	if err := s.screen(ctx, req.Owner, req.SessionID, prompt); err != nil {
		return nil, err
	}

	sess, created, err := s.sessions.GetOrCreate(ctx, req.Owner, req.SessionID)
	if err != nil {
		return nil, err
	}
	log := s.log.With("session_id", sess.SessionID, "owner", req.Owner)
	if created {
		log.Info("chat session started")
	}

	newHashes, warnings := s.ingestFiles(ctx, req.Owner, req.Files)
	for _, w := range warnings {
		_ = emit(models.ChatEvent{Type: models.EventWarning, Text: w})
	}

	snap := session.NewSnapshot(sess, s.historyTurns)
	candidates := snap.WithDocuments(newHashes)
	task := s.classify(ctx, req, sess.SessionID)

	var recalled []models.MemoryEntry
	if len(snap.History) == 0 {
		recalled, err = s.sessions.Recall(ctx, req.Owner, sess.SessionID, candidates, recallTurns)
		if err != nil {
			log.Warn("earlier conversations not recalled", "error", err)
		}
	}

	res, err := s.retrieve(ctx, req.Owner, prompt, candidates)
	if err != nil {
		log.Warn("retrieval failed, answering without document context", "error", err)
		w := "Document search is unavailable; answering without document context"
		warnings = append(warnings, w)
		_ = emit(models.ChatEvent{Type: models.EventWarning, Text: w})
	}

	chatReq := ai.ChatRequest{
		System:  buildSystemPrompt(res, len(snap.History) > 0, task, recalled),
		History: historyMessages(snap.History),
		Prompt:  prompt,
	}

	var answer strings.Builder
	streamed, streamErr := s.chat.StreamChat(ctx, chatReq, func(tok string) error {
		answer.WriteString(tok)
		return emit(models.ChatEvent{Type: models.EventToken, Token: tok})
	})

	response := answer.String()
	interrupted := streamErr != nil
	if interrupted {
		log.Warn("completion interrupted", "error", streamErr, "partial_chars", len(response))
		response = strings.TrimRight(response, " \n") + fmt.Sprintf("\n\n[response interrupted: %s]", interruptReason(streamErr))
		response = strings.TrimLeft(response, "\n")
	}

	inTokens, outTokens := streamed.InputTokens, streamed.OutputTokens
	if inTokens == 0 {
		inTokens = estimateInput(chatReq)
	}
	if outTokens == 0 {
		outTokens = embedding.EstimateTokens(answer.String())
	}

	// The client may be gone; the turn is still recorded.
	persistCtx := context.WithoutCancel(ctx)

	referenced := appendUnique(append([]string(nil), newHashes...), res.UsedHashes...)
	if len(referenced) == 0 {
		referenced = []string{}
	}
	if _, err := s.sessions.AddMessage(persistCtx, req.Owner, sess.SessionID, session.TurnInput{
		Prompt:         prompt,
		Response:       response,
		DocumentHashes: referenced,
		InputTokens:    inTokens,
		OutputTokens:   outTokens,
		Interrupted:    interrupted,
		Task:           string(task),
	}); err != nil {
		return nil, err
	}

	if err := s.meter.RecordChat(persistCtx, req.Owner, sess.SessionID, inTokens, outTokens); err != nil {
		log.Warn("chat usage not recorded", "error", err)
	}

	log.Info("chat turn completed",
		"task", task,
		"strategy", res.Strategy,
		"documents", len(candidates),
		"used", len(res.UsedHashes),
		"input_tokens", inTokens,
		"output_tokens", outTokens,
		"interrupted", interrupted,
	)

	return &TurnResult{
		SessionID:      sess.SessionID,
		Response:       response,
		DocumentHashes: mergeHashes(candidates, nil),
		UsedHashes:     append([]string{}, res.UsedHashes...),
		Warnings:       warnings,
		Task:           string(task),
		InputTokens:    inTokens,
		OutputTokens:   outTokens,
		Interrupted:    interrupted,
		Timestamp:      s.now().UTC(),
	}, nil
}

// screen rejects prompts the guard flags as unsafe.
func (s *ChatService) screen(ctx context.Context, owner, sessionID, prompt string) error {
	if s.guard == nil {
		return nil
	}
	verdict, used := s.guard.CheckSecurity(ctx, prompt)
	s.recordGuardUsage(ctx, owner, sessionID, used)
	if verdict.Safe {
		return nil
	}
	s.log.Warn("prompt rejected", "owner", owner, "reason", verdict.Reason)
	return apperr.Wrap(apperr.ErrUnsafePrompt, "chat turn", errors.New(verdict.Reason))
}

// classify picks the turn's task from the request hint, then the guard.
func (s *ChatService) classify(ctx context.Context, req ChatTurnRequest, sessionID string) guard.Task {
	if t, ok := guard.ParseTask(req.Task); ok {
		return t
	}
	if s.guard == nil {
		return guard.TaskGeneral
	}
	names := make([]string, len(req.Files))
	for i, f := range req.Files {
		names[i] = f.Filename
	}
	c, used := s.guard.Classify(ctx, req.Prompt, req.Task, names)
	s.recordGuardUsage(ctx, req.Owner, sessionID, used)
	s.log.Debug("prompt classified", "task", c.Task, "confidence", c.Confidence)
	return c.Task
}

func (s *ChatService) recordGuardUsage(ctx context.Context, owner, sessionID string, used ai.ChatUsage) {
	if used.InputTokens == 0 && used.OutputTokens == 0 {
		return
	}
	if err := s.meter.RecordChat(ctx, owner, sessionID, used.InputTokens, used.OutputTokens); err != nil {
		s.log.Warn("guard usage not recorded", "error", err)
	}
}

// ingestFiles ingests attachments concurrently. A failed file becomes a
// warning and never blocks its siblings. Hashes keep attachment order.
func (s *ChatService) ingestFiles(ctx context.Context, owner string, files []ChatFile) ([]string, []string) {
	if len(files) == 0 {
		return nil, nil
	}
	hashes := make([]string, len(files))
	errs := make([]error, len(files))

	var eg errgroup.Group
	eg.SetLimit(turnFileConcurrency)
	for i, f := range files {
		eg.Go(func() error {
			hashes[i], errs[i] = s.documents.Ingest(ctx, f.Data, f.Filename, owner)
			return nil
		})
	}
	_ = eg.Wait()

	var ok, warnings []string
	for i, f := range files {
		if errs[i] != nil {
			s.log.Warn("attachment not ingested", "filename", f.Filename, "owner", owner, "error", errs[i])
			warnings = append(warnings, fmt.Sprintf("%s: %s", f.Filename, apperr.Code(errs[i])))
			continue
		}
		ok = appendUnique(ok, hashes[i])
	}
	return ok, warnings
}

func (s *ChatService) retrieve(ctx context.Context, owner, prompt string, hashes []string) (*retrieval.Result, error) {
	docs, err := s.documents.Describe(ctx, owner, hashes)
	if err != nil {
		return &retrieval.Result{Strategy: retrieval.StrategyNone}, apperr.Wrap(apperr.ErrRetrievalFailure, "resolve documents", err)
	}
	refs := make([]retrieval.DocumentRef, len(docs))
	for i, d := range docs {
		refs[i] = retrieval.DocumentRef{Hash: d.ContentHash, Filename: d.Filename}
	}
	res, err := s.retriever.Retrieve(ctx, retrieval.Request{Owner: owner, Query: prompt, Documents: refs})
	if res == nil {
		res = &retrieval.Result{Strategy: retrieval.StrategyNone}
	}
	return res, err
}

// GetSession returns the session or apperr.ErrSessionNotFound.
func (s *ChatService) GetSession(ctx context.Context, sessionID, owner string) (*models.ChatSession, error) {
	return s.sessions.Get(ctx, owner, sessionID)
}

func (s *ChatService) ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error) {
	return s.sessions.List(ctx, owner)
}

func (s *ChatService) EndSession(ctx context.Context, sessionID, owner string) error {
	return s.sessions.End(ctx, owner, sessionID)
}

// Memories returns the owner's latest turns across all sessions, newest first.
func (s *ChatService) Memories(ctx context.Context, owner string, limit int) ([]models.MemoryEntry, error) {
	if owner == "" {
		return nil, apperr.ErrMissingOwner
	}
	return s.sessions.Memories(ctx, owner, limit)
}

// ClearMemories ends every session of the owner.
func (s *ChatService) ClearMemories(ctx context.Context, owner string) (sessions, turns int, err error) {
	if owner == "" {
		return 0, 0, apperr.ErrMissingOwner
	}
	return s.sessions.Forget(ctx, owner)
}

func historyMessages(turns []models.Turn) []ai.ChatMessage {
	msgs := make([]ai.ChatMessage, 0, 2*len(turns))
	for _, t := range turns {
		msgs = append(msgs,
			ai.ChatMessage{Role: ai.RoleUser, Text: t.Prompt},
			ai.ChatMessage{Role: ai.RoleModel, Text: t.Response},
		)
	}
	return msgs
}

func estimateInput(req ai.ChatRequest) int {
	n := embedding.EstimateTokens(req.System) + embedding.EstimateTokens(req.Prompt)
	for _, m := range req.History {
		n += embedding.EstimateTokens(m.Text)
	}
	return n
}

func interruptReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	default:
		return strings.ReplaceAll(apperr.Code(err), "_", " ")
	}
}

// appendUnique appends hashes not already in dst, keeping first occurrence order.
func appendUnique(dst []string, hashes ...string) []string {
	seen := make(map[string]struct{}, len(dst)+len(hashes))
	for _, h := range dst {
		seen[h] = struct{}{}
	}
	for _, h := range hashes {
		if _, ok := seen[h]; ok || h == "" {
			continue
		}
		seen[h] = struct{}{}
		dst = append(dst, h)
	}
	return dst
}

func mergeHashes(a, b []string) []string {
	return appendUnique(append([]string{}, a...), b...)
}

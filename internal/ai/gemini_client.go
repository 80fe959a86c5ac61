package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/config"
	"document-chat-platform/internal/retry"
	"document-chat-platform/internal/telemetry"
)

const ocrPrompt = "Transcribe all text on this page exactly as it appears, preserving reading order, " +
	"headings and table rows. Return only the transcribed text. If the page has no text, return nothing."

// GeminiClient is the single gateway to Gemini. Every call passes the rate
// limiter, the shared concurrency semaphore, the circuit breaker and the
// retry policy, in that order.
type GeminiClient struct {
	client      *genai.Client
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	sem         *semaphore.Weighted
	retry       retry.Policy
	timeout     time.Duration
	metrics     *telemetry.Metrics
	log         *slog.Logger

	chatModel       string
	visionModel     string
	embeddingsModel string
	dimensions      int
	tier            string
}

type RateLimits struct {
	RPM int // Requests per minute
	TPM int // Tokens per minute
	RPD int // Requests per day
}

func NewGeminiClient(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, log *slog.Logger) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "gemini")

	// Configure rate limits based on tier
	limits := getRateLimits(cfg.GeminiTier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return !isBreakerFailure(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.RecordCircuitBreakerState(name, to.String())
		},
	})

	// RPM limit with some buffer
	burst := limits.RPM / 10
	if burst < 1 {
		burst = 1
	}
	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), burst)

	concurrency := cfg.ProviderConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	policy := retry.Policy{
		MaxAttempts:     uint(max(cfg.RetryMaxAttempts, 1)),
		InitialInterval: cfg.RetryInitialBackoff,
		MaxInterval:     cfg.RetryMaxBackoff,
		Multiplier:      2,
		Retryable:       apperr.Retryable,
		OnRetry: func(err error, wait time.Duration) {
			log.Warn("retrying provider call", "error", err, "wait", wait)
		},
	}

	return &GeminiClient{
		client:          client,
		breaker:         breaker,
		rateLimiter:     rateLimiter,
		sem:             semaphore.NewWeighted(int64(concurrency)),
		retry:           policy,
		timeout:         cfg.ProviderTimeout,
		metrics:         metrics,
		log:             log,
		chatModel:       cfg.ChatModel,
		visionModel:     cfg.VisionModel,
		embeddingsModel: cfg.EmbeddingsModel,
		dimensions:      cfg.VectorDimensions,
		tier:            cfg.GeminiTier,
	}, nil
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "free":
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	case "tier1":
		return RateLimits{RPM: 1000, TPM: 1000000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, TPM: 4000000, RPD: 50000}
	default:
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	}
}

// call runs fn under the limiter, semaphore and breaker with the retry
// policy around the whole attempt.
func call[T any](ctx context.Context, gc *GeminiClient, p retry.Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	res, err := retry.Do(ctx, p, func(ctx context.Context) (T, error) {
		var zero T
		if err := gc.rateLimiter.Wait(ctx); err != nil {
			return zero, err
		}
		if err := gc.sem.Acquire(ctx, 1); err != nil {
			return zero, err
		}
		defer gc.sem.Release(1)

		callCtx := ctx
		if gc.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, gc.timeout)
			defer cancel()
		}

		out, err := gc.breaker.Execute(func() (interface{}, error) {
			return fn(callCtx)
		})
		if err != nil {
			return zero, classify(op, err)
		}
		return out.(T), nil
	})

	outcome := "success"
	switch {
	case err == nil:
	case IsRateLimited(err):
		outcome = "rate_limited"
	case errors.Is(err, apperr.ErrProviderUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	gc.metrics.RecordProviderCall(op, outcome)
	return res, err
}

func (gc *GeminiClient) Model() string   { return gc.embeddingsModel }
func (gc *GeminiClient) Dimensions() int { return gc.dimensions }

// Embeddings returns an Embedder view of the client.
func (gc *GeminiClient) Embeddings() Embedder { return gc }

// Chat returns a ChatModel view of the client.
func (gc *GeminiClient) Chat() ChatModel { return chatView{gc} }

// EmbedTexts embeds texts with a single batch request. It makes one attempt;
// the embedding generator owns retries for this call.
func (gc *GeminiClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := otel.Tracer("gemini-client").Start(ctx, "gemini.embed_texts")
	defer span.End()
	span.SetAttributes(
		attribute.Int("gemini.batch_size", len(texts)),
		attribute.String("gemini.model", gc.embeddingsModel),
	)

	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := call(ctx, gc, gc.retry.WithAttempts(1), "embed", func(ctx context.Context) ([][]float32, error) {
		em := gc.client.EmbeddingModel(gc.embeddingsModel)
		batch := em.NewBatch()
		for _, t := range texts {
			batch.AddContent(genai.Text(t))
		}
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(res.Embeddings) != len(texts) {
			return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(res.Embeddings), len(texts))
		}
		out := make([][]float32, len(res.Embeddings))
		for i, e := range res.Embeddings {
			if e != nil {
				out[i] = e.Values
			}
		}
		return out, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return vectors, nil
}

// RecognizeImage transcribes one page image at temperature 0.
func (gc *GeminiClient) RecognizeImage(ctx context.Context, mimeType string, image []byte) (string, error) {
	ctx, span := otel.Tracer("gemini-client").Start(ctx, "gemini.recognize_image")
	defer span.End()
	span.SetAttributes(
		attribute.Int("gemini.image_bytes", len(image)),
		attribute.String("gemini.model", gc.visionModel),
	)

	text, err := call(ctx, gc, gc.retry, "ocr", func(ctx context.Context) (string, error) {
		model := gc.client.GenerativeModel(gc.visionModel)
		model.SetTemperature(0)

		resp, err := model.GenerateContent(ctx,
			genai.Blob{MIMEType: mimeType, Data: image},
			genai.Text(ocrPrompt),
		)
		if err != nil {
			return "", err
		}
		if resp.UsageMetadata != nil {
			gc.metrics.RecordTokensUsed(int64(resp.UsageMetadata.TotalTokenCount), gc.visionModel, "ocr")
		}
		return responseText(resp), nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return strings.TrimSpace(text), nil
}

type chatView struct{ gc *GeminiClient }

func (c chatView) Model() string { return c.gc.chatModel }

func (c chatView) StreamChat(ctx context.Context, req ChatRequest, onToken func(string) error) (ChatUsage, error) {
	return c.gc.StreamChat(ctx, req, onToken)
}

// StreamChat streams a completion to onToken. Once the first token has been
// delivered the call is never retried, so callers never see duplicated text.
func (gc *GeminiClient) StreamChat(ctx context.Context, req ChatRequest, onToken func(string) error) (ChatUsage, error) {
	ctx, span := otel.Tracer("gemini-client").Start(ctx, "gemini.stream_chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", gc.chatModel),
		attribute.Int("gemini.history_turns", len(req.History)),
		attribute.Int("gemini.system_chars", len(req.System)),
	)

	started := false
	var callbackErr error

	// Partial output already reached the caller once started is set.
	policy := gc.retry
	policy.Retryable = func(err error) bool {
		return !started && apperr.Retryable(err)
	}

	usage, err := call(ctx, gc, policy, "chat", func(ctx context.Context) (ChatUsage, error) {
		model := gc.client.GenerativeModel(gc.chatModel)
		model.SetTemperature(0.3)
		if req.System != "" {
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
		}

		cs := model.StartChat()
		cs.History = buildHistory(req.History)

		it := cs.SendMessageStream(ctx, genai.Text(req.Prompt))
		var u ChatUsage
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return u, err
			}
			if resp.UsageMetadata != nil {
				u.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
				u.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			if text := responseText(resp); text != "" {
				started = true
				if err := onToken(text); err != nil {
					callbackErr = err
					return u, err
				}
			}
		}
		return u, nil
	})

	if callbackErr != nil {
		return usage, callbackErr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return usage, err
	}

	gc.metrics.RecordTokensUsed(int64(usage.InputTokens), gc.chatModel, "input")
	gc.metrics.RecordTokensUsed(int64(usage.OutputTokens), gc.chatModel, "output")
	span.SetAttributes(
		attribute.Int("gemini.input_tokens", usage.InputTokens),
		attribute.Int("gemini.output_tokens", usage.OutputTokens),
	)
	return usage, nil
}

func buildHistory(msgs []ChatMessage) []*genai.Content {
	history := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		history = append(history, &genai.Content{
			Role:  string(m.Role),
			Parts: []genai.Part{genai.Text(m.Text)},
		})
	}
	return history
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

// Close the client
func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}

// Package guard screens chat prompts before they reach retrieval: a
// security audit that rejects attempts at code execution or system access,
// and a task classifier that picks how the answer is framed.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"document-chat-platform/internal/ai"
)

// Task is the kind of answer a prompt asks for.
type Task string

const (
	TaskGeneral       Task = "general conversation"
	TaskSummarization Task = "summarization"
	TaskComparison    Task = "comparison"
	TaskDataAnalysis  Task = "data analysis"
	TaskFileQA        Task = "file Q&A"
)

var tasks = []Task{TaskGeneral, TaskSummarization, TaskComparison, TaskDataAnalysis, TaskFileQA}

const securityInstruction = `You are a security auditor. Flag the prompt ONLY if it contains one of:
1. CODE EXECUTION: requests to run system code or reach files outside the user's own documents.
2. SYSTEM ACCESS: attempts to obtain credentials, passwords, keys or server files.

General conversation, long lists, questions, jokes and interview preparation are safe.

Reply with JSON only: {"is_safe": true or false, "reason": "..."}`

const classifyInstruction = `Classify the user prompt into exactly one of: general conversation, summarization, comparison, data analysis, file Q&A.
Use the task hint and attached file names when they help.

Reply with JSON only: {"task": "...", "confidence_score": 0.0 to 1.0}`

// Verdict is the outcome of the security audit.
type Verdict struct {
	Safe   bool
	Reason string
}

// Classification is the task a prompt was routed to.
type Classification struct {
	Task       Task
	Confidence float64
}

// Guard runs both checks through the chat model. Provider failures and
// malformed replies never block a turn: the prompt is treated as safe and
// as general conversation.
type Guard struct {
	model ai.ChatModel
	log   *slog.Logger
}

func New(model ai.ChatModel, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{model: model, log: log.With("component", "guard")}
}

// CheckSecurity audits prompt. The returned usage covers the audit call.
func (g *Guard) CheckSecurity(ctx context.Context, prompt string) (Verdict, ai.ChatUsage) {
	reply, usage, err := g.complete(ctx, securityInstruction, prompt)
	if err != nil {
		g.log.Warn("security check unavailable, allowing prompt", "error", err)
		return Verdict{Safe: true, Reason: "check unavailable"}, usage
	}

	var out struct {
		IsSafe *bool  `json:"is_safe"`
		Reason string `json:"reason"`
	}
	if err := decodeReply(reply, &out); err != nil {
		g.log.Warn("unreadable security verdict, allowing prompt", "error", err)
		return Verdict{Safe: true, Reason: "unreadable verdict"}, usage
	}
	v := Verdict{Safe: out.IsSafe == nil || *out.IsSafe, Reason: strings.TrimSpace(out.Reason)}
	if v.Reason == "" {
		v.Reason = "no issues detected"
	}
	return v, usage
}

// Classify routes prompt to a task. A hint naming a known task is taken as
// is without calling the model.
func (g *Guard) Classify(ctx context.Context, prompt, hint string, files []string) (Classification, ai.ChatUsage) {
	if t, ok := ParseTask(hint); ok {
		return Classification{Task: t, Confidence: 1}, ai.ChatUsage{}
	}

	input := fmt.Sprintf("Prompt: %s\nTask hint: %s\nFiles: %s", prompt, hint, strings.Join(files, ", "))
	reply, usage, err := g.complete(ctx, classifyInstruction, input)
	if err != nil {
		g.log.Warn("task classification unavailable", "error", err)
		return Classification{Task: TaskGeneral, Confidence: 1}, usage
	}

	var out struct {
		Task       string   `json:"task"`
		Confidence *float64 `json:"confidence_score"`
	}
	if err := decodeReply(reply, &out); err != nil {
		g.log.Warn("unreadable task classification", "error", err)
		return Classification{Task: TaskGeneral, Confidence: 1}, usage
	}
	t, ok := ParseTask(out.Task)
	if !ok {
		t = TaskGeneral
	}
	c := Classification{Task: t, Confidence: 1}
	if out.Confidence != nil {
		c.Confidence = min(max(*out.Confidence, 0), 1)
	}
	return c, usage
}

// ParseTask matches s against the known tasks, ignoring case, spacing and
// punctuation.
func ParseTask(s string) (Task, bool) {
	want := normalize(s)
	if want == "" {
		return "", false
	}
	for _, t := range tasks {
		if normalize(string(t)) == want {
			return t, true
		}
	}
	return "", false
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (g *Guard) complete(ctx context.Context, system, prompt string) (string, ai.ChatUsage, error) {
	var reply strings.Builder
	usage, err := g.model.StreamChat(ctx, ai.ChatRequest{System: system, Prompt: prompt}, func(tok string) error {
		reply.WriteString(tok)
		return nil
	})
	return reply.String(), usage, err
}

// decodeReply reads the first JSON object in reply. Models sometimes wrap
// it in a fenced code block.
func decodeReply(reply string, v any) error {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in reply %q", truncate(reply, 80))
	}
	return json.Unmarshal([]byte(reply[start:end+1]), v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

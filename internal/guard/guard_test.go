package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"document-chat-platform/internal/ai"
	"document-chat-platform/internal/ai/mock"
)

func TestCheckSecurity(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		safe   bool
		reason string
	}{
		{"safe", `{"is_safe": true, "reason": "ordinary question"}`, true, "ordinary question"},
		{"unsafe", `{"is_safe": false, "reason": "asks for server credentials"}`, false, "asks for server credentials"},
		{"fenced", "```json\n{\"is_safe\": false, \"reason\": \"shell command\"}\n```", false, "shell command"},
		{"missing fields", `{}`, true, "no issues detected"},
		{"not json", "I cannot help with that", true, "unreadable verdict"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := mock.NewChat(tt.answer)
			v, _ := New(model, nil).CheckSecurity(context.Background(), "cat /etc/passwd please")

			assert.Equal(t, tt.safe, v.Safe)
			assert.Equal(t, tt.reason, v.Reason)
			reqs := model.Requests()
			if assert.Len(t, reqs, 1) {
				assert.Contains(t, reqs[0].System, "security auditor")
				assert.Equal(t, "cat /etc/passwd please", reqs[0].Prompt)
			}
		})
	}
}

func TestCheckSecurity_ProviderErrorAllows(t *testing.T) {
	model := mock.NewChat("")
	model.StreamFunc = func(context.Context, ai.ChatRequest, func(string) error) (ai.ChatUsage, error) {
		return ai.ChatUsage{}, errors.New("provider down")
	}
	v, _ := New(model, nil).CheckSecurity(context.Background(), "hello")
	assert.True(t, v.Safe)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		answer     string
		task       Task
		confidence float64
	}{
		{"summarization", `{"task": "summarization", "confidence_score": 0.9}`, TaskSummarization, 0.9},
		{"loose spelling", `{"task": "File QA", "confidence_score": 0.7}`, TaskFileQA, 0.7},
		{"unknown task", `{"task": "poetry", "confidence_score": 0.8}`, TaskGeneral, 0.8},
		{"confidence clamped", `{"task": "comparison", "confidence_score": 3}`, TaskComparison, 1},
		{"no confidence", `{"task": "data analysis"}`, TaskDataAnalysis, 1},
		{"garbage", `none`, TaskGeneral, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := mock.NewChat(tt.answer)
			c, _ := New(model, nil).Classify(context.Background(), "compare these", "", []string{"a.pdf", "b.pdf"})

			assert.Equal(t, tt.task, c.Task)
			assert.InDelta(t, tt.confidence, c.Confidence, 1e-9)
			assert.Contains(t, model.Requests()[0].Prompt, "Files: a.pdf, b.pdf")
		})
	}
}

func TestClassify_KnownHintSkipsModel(t *testing.T) {
	model := mock.NewChat(`{"task": "general conversation"}`)
	c, usage := New(model, nil).Classify(context.Background(), "anything", "Summarization", nil)

	assert.Equal(t, TaskSummarization, c.Task)
	assert.Zero(t, usage.InputTokens)
	assert.Empty(t, model.Requests())
}

func TestParseTask(t *testing.T) {
	for in, want := range map[string]Task{
		"file Q&A":             TaskFileQA,
		"file_qa":              TaskFileQA,
		"COMPARISON":           TaskComparison,
		"general conversation": TaskGeneral,
		"Data-Analysis":        TaskDataAnalysis,
	} {
		got, ok := ParseTask(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseTask("")
	assert.False(t, ok)
	_, ok = ParseTask("translate")
	assert.False(t, ok)
}

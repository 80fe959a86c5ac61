package services

import (
	"strings"

	"document-chat-platform/internal/guard"
	"document-chat-platform/internal/retrieval"
	"document-chat-platform/models"
)

var taskInstructions = map[guard.Task]string{
	guard.TaskSummarization: "- SUMMARIZE the documents in full, covering every major section\n",
	guard.TaskComparison:    "- COMPARE and contrast the documents, naming where they agree and where they differ\n",
	guard.TaskDataAnalysis:  "- ANALYZE the data in the documents and quote figures exactly as written\n",
	guard.TaskFileQA:        "- ANSWER the question from the document content\n",
}

func buildSystemPrompt(res *retrieval.Result, hasHistory bool, task guard.Task, recalled []models.MemoryEntry) string {
	var prompt strings.Builder

	prompt.WriteString("You are a document assistant. ")
	prompt.WriteString("Answer the user's questions using the content of the documents they uploaded.\n\n")

	prompt.WriteString("RESPONSE RULES:\n")
	prompt.WriteString("- BASE answers on the document context below whenever it is relevant\n")
	prompt.WriteString("- CITE the source document and page when you use its content\n")
	prompt.WriteString("- SAY so plainly when the documents do not contain the answer\n")
	prompt.WriteString("- KEEP answers concise and use bullet points for lists\n\n")

	if instr, ok := taskInstructions[task]; ok {
		prompt.WriteString("TASK:\n")
		prompt.WriteString(instr)
		prompt.WriteString("\n")
	}

	if hasHistory {
		prompt.WriteString("CONVERSATION:\n")
		prompt.WriteString("- CONTINUE from the previous turns when the user refers back to them\n\n")
	}

	if len(recalled) > 0 {
		prompt.WriteString("EARLIER CONVERSATIONS (other sessions, use only if relevant):\n")
		for _, m := range recalled {
			prompt.WriteString("User: ")
			prompt.WriteString(m.Prompt)
			prompt.WriteString("\nAssistant: ")
			prompt.WriteString(m.Response)
			prompt.WriteString("\n")
		}
		prompt.WriteString("\n")
	}

	if res == nil || res.Context == "" {
		prompt.WriteString("DOCUMENT CONTEXT: none available for this question.\n")
		return prompt.String()
	}

	prompt.WriteString("DOCUMENT CONTEXT:\n")
	prompt.WriteString(res.Context)
	prompt.WriteString("\n")
	return prompt.String()
}

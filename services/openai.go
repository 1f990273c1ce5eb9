package services

import (
	"context"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// ChatResponder drives the speech-gather fallback path: when a call is
// not bridged to the hosted voice platform, the caller's speech is
// answered turn by turn with a chat completion. Per-call history lives
// in memory only and is dropped when the call completes; durable memory
// is the MemoryStore's job.
type ChatResponder struct {
	client     *openai.Client
	basePrompt string

	mu        sync.Mutex
	histories map[string][]openai.ChatCompletionMessage
}

func NewChatResponder(apiKey, basePrompt string) *ChatResponder {
	return &ChatResponder{
		client:     openai.NewClient(apiKey),
		basePrompt: basePrompt,
		histories:  make(map[string][]openai.ChatCompletionMessage),
	}
}

// Respond appends the caller's words to the call's history and returns
// the assistant's reply. callerContext is the rendered cross-call memory
// block; it is folded into the system prompt on the first turn.
func (r *ChatResponder) Respond(ctx context.Context, callSid, callerContext, userSpeech string) (string, error) {
	r.mu.Lock()
	history, ok := r.histories[callSid]
	if !ok {
		system := r.basePrompt
		if callerContext != "" {
			system += "\n\n=== CONVERSATION MEMORY ===\n" + callerContext
		}
		history = []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		}}
	}
	history = append(history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userSpeech,
	})
	r.histories[callSid] = history
	r.mu.Unlock()

	req := openai.ChatCompletionRequest{
		Model:       openai.GPT3Dot5Turbo,
		Messages:    history,
		MaxTokens:   150,
		Temperature: 0.7,
	}
	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	reply := resp.Choices[0].Message.Content

	r.mu.Lock()
	r.histories[callSid] = append(r.histories[callSid], openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply,
	})
	r.mu.Unlock()

	return reply, nil
}

// EndCall drops the in-memory history for a finished call.
func (r *ChatResponder) EndCall(callSid string) {
	r.mu.Lock()
	delete(r.histories, callSid)
	r.mu.Unlock()
}

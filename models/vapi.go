package models

// Assistant descriptor returned to the voice platform for an
// assistant-request webhook. Field names follow the platform's JSON schema.

type AssistantResponse struct {
	Assistant Assistant `json:"assistant"`
}

type Assistant struct {
	Model              AssistantModel   `json:"model"`
	Voice              AssistantVoice   `json:"voice"`
	FirstMessage       string           `json:"firstMessage"`
	RecordingEnabled   bool             `json:"recordingEnabled"`
	Transcriber        Transcriber      `json:"transcriber"`
	EndCallPhrases     []string         `json:"endCallPhrases"`
	MaxDurationSeconds int              `json:"maxDurationSeconds"`
	ServerMessages     []string         `json:"serverMessages"`
}

type AssistantModel struct {
	Provider    string        `json:"provider"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []ChatMessage `json:"messages"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AssistantVoice struct {
	Provider string `json:"provider"`
	VoiceID  string `json:"voiceId"`
}

type Transcriber struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

// ToolResult is the result of one tool call, readable by the assistant.
// Errors are reported here as text, never as an HTTP failure status,
// because the platform retries failed webhooks.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
}

type ToolResponse struct {
	Results []ToolResult `json:"results"`
}

// TranscriptUpdate is pushed to dashboard websocket clients while a call
// is in progress.
type TranscriptUpdate struct {
	Type    string `json:"type"`
	CallID  string `json:"call_id"`
	Role    string `json:"role"`
	Text    string `json:"text"`
	Partial bool   `json:"partial,omitempty"`
}

// ConnectionResponse acknowledges a dashboard websocket subscription.
type ConnectionResponse struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
	CallID  string `json:"call_id,omitempty"`
}

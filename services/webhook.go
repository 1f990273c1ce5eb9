package services

import (
	"fmt"

	"github.com/ianpilon/IOG-Procurement-Voice-AI-system/models"
)

// EventKind classifies an inbound webhook payload from the voice
// platform.
type EventKind string

const (
	EventAssistantRequest EventKind = "assistant-request"
	EventEndOfCallReport  EventKind = "end-of-call-report"
	EventTranscript       EventKind = "transcript"
	EventToolCalls        EventKind = "tool-calls"
	EventStatusUpdate     EventKind = "status-update"
	EventUnknown          EventKind = ""
)

// ClassifyEvent inspects a top-level "type" field, then a nested
// "message.type"; the first one present wins. Unrecognized payloads come
// back as EventUnknown and are acknowledged without dispatch.
func ClassifyEvent(body map[string]any) EventKind {
	if t, ok := digString(body, "type"); ok {
		return EventKind(t)
	}
	if t, ok := digString(body, "message", "type"); ok {
		return EventKind(t)
	}
	return EventUnknown
}

// ExtractArgument finds a tool-call argument that the platform may have
// placed at any of four historically observed locations, tried in fixed
// order. It never fails: absence is reported as ("", false) and answered
// with an error-shaped tool result, because the platform expects a 200
// acknowledgement even for malformed tool calls.
func ExtractArgument(body map[string]any, name string) (string, bool) {
	paths := [][]string{
		{name},
		{"parameters", name},
		{"message", "toolCalls", "0", "function", "arguments", name},
		{"message", "toolCallList", "0", "function", "arguments", name},
	}
	for _, path := range paths {
		if v, ok := dig(body, path...); ok {
			return stringify(v), true
		}
	}
	return "", false
}

// ExtractToolCallID returns the platform's tool-call correlation ID, or
// "unknown" when none of the known locations carry one.
func ExtractToolCallID(body map[string]any) string {
	paths := [][]string{
		{"message", "toolCallList", "0", "id"},
		{"message", "toolCalls", "0", "id"},
	}
	for _, path := range paths {
		if v, ok := dig(body, path...); ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return "unknown"
}

// ExtractCallerPhone resolves the caller's phone number from the payload
// shapes the platform has been seen to use.
func ExtractCallerPhone(body map[string]any) (string, bool) {
	paths := [][]string{
		{"message", "call", "customer", "number"},
		{"message", "customer", "number"},
		{"call", "customer", "number"},
	}
	for _, path := range paths {
		if v, ok := dig(body, path...); ok {
			if s := stringify(v); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// ExtractCallID returns the platform call identifier, if present.
func ExtractCallID(body map[string]any) string {
	paths := [][]string{
		{"message", "call", "id"},
		{"call", "id"},
	}
	for _, path := range paths {
		if v, ok := dig(body, path...); ok {
			return stringify(v)
		}
	}
	return ""
}

// ExtractCallMeta returns the call duration in seconds and the platform's
// end reason from an end-of-call report.
func ExtractCallMeta(body map[string]any) (durationSecs int, endReason string) {
	paths := [][]string{
		{"message", "call", "duration"},
		{"message", "durationSeconds"},
		{"call", "duration"},
	}
	for _, path := range paths {
		if v, ok := dig(body, path...); ok {
			if f, ok := v.(float64); ok {
				durationSecs = int(f)
				break
			}
		}
	}
	reasonPaths := [][]string{
		{"message", "call", "endedReason"},
		{"call", "endedReason"},
		{"message", "endedReason"},
	}
	for _, path := range reasonPaths {
		if v, ok := dig(body, path...); ok {
			endReason = stringify(v)
			break
		}
	}
	return durationSecs, endReason
}

// ExtractTranscript pulls the completed-call transcript from the report
// artifact, preferring the OpenAI-formatted message list. System
// messages are dropped; only user and assistant turns are memory.
func ExtractTranscript(body map[string]any) []models.TranscriptMessage {
	var raw []any
	for _, path := range [][]string{
		{"message", "artifact", "messagesOpenAIFormatted"},
		{"message", "artifact", "messages"},
		{"artifact", "messagesOpenAIFormatted"},
		{"artifact", "messages"},
	} {
		if v, ok := dig(body, path...); ok {
			if list, ok := v.([]any); ok && len(list) > 0 {
				raw = list
				break
			}
		}
	}

	var out []models.TranscriptMessage
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := digString(m, "role")
		if role == "system" || role == "" {
			continue
		}
		if role != models.RoleUser {
			role = models.RoleAssistant
		}
		text, ok := digString(m, "content")
		if !ok {
			text, _ = digString(m, "message")
		}
		if text == "" {
			continue
		}
		out = append(out, models.TranscriptMessage{Role: role, Text: text})
	}
	return out
}

// ExtractLiveTranscript pulls a partial transcript line from a streaming
// transcript event.
func ExtractLiveTranscript(body map[string]any) (role, text string) {
	role, _ = digString(body, "message", "transcript", "role")
	if role == "" {
		role, _ = digString(body, "transcript", "role")
	}
	for _, path := range [][]string{
		{"message", "transcript", "text"},
		{"message", "transcript", "transcript"},
		{"transcript", "text"},
		{"transcript", "transcript"},
	} {
		if v, ok := dig(body, path...); ok {
			if s := stringify(v); s != "" {
				return role, s
			}
		}
	}
	return role, ""
}

// dig walks a decoded JSON value by map keys, treating a numeric path
// element as a slice index.
func dig(v any, path ...string) (any, bool) {
	cur := v
	for _, key := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx := -1
			if _, err := fmt.Sscanf(key, "%d", &idx); err != nil {
				return nil, false
			}
			if idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func digString(v any, path ...string) (string, bool) {
	raw, ok := dig(v, path...)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return fmt.Sprintf("%g", s)
	case bool:
		return fmt.Sprintf("%t", s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

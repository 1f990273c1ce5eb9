package models

import (
	"time"
)

// Message roles used in stored transcripts.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscriptMessage is a single utterance in a call transcript.
type TranscriptMessage struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// CallEntry is one completed call in a caller's history.
type CallEntry struct {
	CallID       string    `json:"call_id"`
	Date         time.Time `json:"date"`
	DurationSecs int       `json:"duration_secs"`
	EndReason    string    `json:"end_reason,omitempty"`
}

// CallTranscript is the full transcript of one completed call.
type CallTranscript struct {
	CallID   string              `json:"call_id"`
	Date     time.Time           `json:"date"`
	Messages []TranscriptMessage `json:"messages"`
}

// CallerRecord tracks everything we remember about one phone number.
// The phone number is the sole identity key.
type CallerRecord struct {
	Phone             string            `json:"phone"`
	FirstCallAt       time.Time         `json:"first_call"`
	LastCallAt        *time.Time        `json:"last_call,omitempty"`
	CallCount         int               `json:"call_count"`
	QuestionsAnswered []string          `json:"questions_answered"`
	ConversationNotes map[string]string `json:"conversation_notes"`
	CallHistory       []CallEntry       `json:"call_history"`
	Transcripts       []CallTranscript  `json:"transcripts,omitempty"`
	CachedSummary     string            `json:"cached_summary,omitempty"`
}

// NewCallerRecord returns the zero-state record for a phone number.
func NewCallerRecord(phone string, now time.Time) *CallerRecord {
	return &CallerRecord{
		Phone:             phone,
		FirstCallAt:       now,
		QuestionsAnswered: []string{},
		ConversationNotes: map[string]string{},
		CallHistory:       []CallEntry{},
	}
}

// Answered reports whether a question ID is already marked answered.
func (r *CallerRecord) Answered(questionID string) bool {
	for _, id := range r.QuestionsAnswered {
		if id == questionID {
			return true
		}
	}
	return false
}

// CallSignals are the facts we know about one completed call when it is
// being folded into a caller's record.
type CallSignals struct {
	CallID       string
	Date         time.Time
	DurationSecs int
	EndReason    string
	// Transcript is nil when the platform delivered no usable transcript;
	// progress then falls back to the duration heuristic.
	Transcript []TranscriptMessage
}

// Question is one discovery question the assistant works through with a
// caller across calls. Definition order is the default asking order.
type Question struct {
	ID       string   `json:"id"`
	Short    string   `json:"short"`
	Full     string   `json:"full"`
	Keywords []string `json:"keywords,omitempty"`
}

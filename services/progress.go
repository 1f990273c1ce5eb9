package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/ianpilon/IOG-Procurement-Voice-AI-system/models"
)

const (
	// Calls shorter than this are logged in history but never advance
	// discovery progress (dropped and misdialed calls).
	MinViableCallSecs = 10

	// DurationPolicy threshold: a call longer than this is assumed to
	// have covered the next pending question.
	DefaultAnswerThresholdSecs = 60

	noteExcerptLimit = 200
)

// Answer is one question a policy decided to mark as covered, with the
// note justifying the decision.
type Answer struct {
	QuestionID string
	Note       string
}

// AnswerPolicy decides which discovery questions a completed call
// covered. Implementations are pure functions of (record, signals) and
// must not mutate the record.
type AnswerPolicy interface {
	Name() string
	Evaluate(record *models.CallerRecord, signals models.CallSignals, questions []models.Question) []Answer
}

// DurationPolicy marks the next unanswered question in definition order
// when a call ran long enough. A 61-second call about nothing still
// advances progress; this is the known-weak heuristic the keyword policy
// replaces whenever a transcript is available.
type DurationPolicy struct {
	ThresholdSecs int
}

func (p DurationPolicy) Name() string { return "duration" }

func (p DurationPolicy) Evaluate(record *models.CallerRecord, signals models.CallSignals, questions []models.Question) []Answer {
	threshold := p.ThresholdSecs
	if threshold <= 0 {
		threshold = DefaultAnswerThresholdSecs
	}
	if signals.DurationSecs <= threshold {
		return nil
	}
	if len(record.QuestionsAnswered) >= len(questions) {
		return nil
	}
	next := questions[len(record.QuestionsAnswered)]
	note := fmt.Sprintf("Discussed in %ds call on %s", signals.DurationSecs, signals.Date.UTC().Format(time.RFC3339))
	return []Answer{{QuestionID: next.ID, Note: note}}
}

// KeywordPolicy scans the caller's own words for each question's
// keywords. Every unanswered question that matches is marked, not just
// the next one in order - a caller may cover several topics in one call.
type KeywordPolicy struct{}

func (p KeywordPolicy) Name() string { return "keyword" }

func (p KeywordPolicy) Evaluate(record *models.CallerRecord, signals models.CallSignals, questions []models.Question) []Answer {
	userText := joinUserText(signals.Transcript)
	if userText == "" {
		return nil
	}
	lowered := strings.ToLower(userText)

	note := userText
	if len([]rune(note)) > noteExcerptLimit {
		note = string([]rune(note)[:noteExcerptLimit]) + "..."
	}

	var answers []Answer
	for _, q := range questions {
		if record.Answered(q.ID) {
			continue
		}
		for _, kw := range q.Keywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				answers = append(answers, Answer{QuestionID: q.ID, Note: note})
				break
			}
		}
	}
	return answers
}

func joinUserText(transcript []models.TranscriptMessage) string {
	var parts []string
	for _, m := range transcript {
		if m.Role == models.RoleUser && m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, " ")
}

// PolicyFromName maps the ANSWER_POLICY setting to a policy. Unknown
// names fall back to the duration heuristic.
func PolicyFromName(name string) AnswerPolicy {
	if strings.EqualFold(name, "keyword") {
		return KeywordPolicy{}
	}
	return DurationPolicy{ThresholdSecs: DefaultAnswerThresholdSecs}
}

// ApplyCallSignals folds one completed call into a caller record: the
// call is always appended to history, the transcript (if any) is
// retained, and the policy decides which questions it covered. A
// previously answered question is never un-marked or re-noted.
func ApplyCallSignals(record *models.CallerRecord, signals models.CallSignals, questions []models.Question, policy AnswerPolicy) {
	// Prefer keyword evidence over the duration proxy when the platform
	// delivered a transcript.
	if len(signals.Transcript) > 0 {
		policy = KeywordPolicy{}
	}

	record.CallCount++
	last := signals.Date
	record.LastCallAt = &last
	record.CallHistory = append(record.CallHistory, models.CallEntry{
		CallID:       signals.CallID,
		Date:         signals.Date,
		DurationSecs: signals.DurationSecs,
		EndReason:    signals.EndReason,
	})

	if len(signals.Transcript) > 0 {
		record.Transcripts = append(record.Transcripts, models.CallTranscript{
			CallID:   signals.CallID,
			Date:     signals.Date,
			Messages: signals.Transcript,
		})
	}

	// A sub-10s call is a drop or misdial: it stays in history but never
	// advances progress. Zero means the platform reported no duration.
	if signals.DurationSecs > 0 && signals.DurationSecs < MinViableCallSecs {
		return
	}

	for _, ans := range policy.Evaluate(record, signals, questions) {
		if record.Answered(ans.QuestionID) {
			continue
		}
		record.QuestionsAnswered = append(record.QuestionsAnswered, ans.QuestionID)
		if record.ConversationNotes == nil {
			record.ConversationNotes = map[string]string{}
		}
		record.ConversationNotes[ans.QuestionID] = ans.Note
	}
}

package services

import (
	"fmt"
	"strings"

	"github.com/ianpilon/IOG-Procurement-Voice-AI-system/models"
)

// ContextOptions bound the size of the rendered conversation context.
type ContextOptions struct {
	// MaxExcerptChars caps each call's raw dialogue excerpt.
	MaxExcerptChars int
	// MaxTotalChars caps the whole rendered block. Older call excerpts
	// are dropped first, then per-question notes are truncated.
	MaxTotalChars int
	// RecentCalls is how many of the latest transcripts to excerpt.
	RecentCalls int
}

func DefaultContextOptions() ContextOptions {
	return ContextOptions{
		MaxExcerptChars: 800,
		MaxTotalChars:   4000,
		RecentCalls:     3,
	}
}

const newCallerContext = "This is a NEW caller. Welcome them warmly and begin with the first discovery question."

const discoveryCompleteContext = "ALL DISCOVERY QUESTIONS COMPLETE! Thank them sincerely for sharing their critical business knowledge."

// BuildContext renders the conversation-memory block injected into the
// next call's system prompt. Output is deterministic for equal inputs
// and never exceeds opts.MaxTotalChars.
func BuildContext(record *models.CallerRecord, questions []models.Question, opts ContextOptions) string {
	if opts.MaxExcerptChars <= 0 {
		opts.MaxExcerptChars = DefaultContextOptions().MaxExcerptChars
	}
	if opts.MaxTotalChars <= 0 {
		opts.MaxTotalChars = DefaultContextOptions().MaxTotalChars
	}
	if opts.RecentCalls <= 0 {
		opts.RecentCalls = DefaultContextOptions().RecentCalls
	}

	if record == nil || record.CallCount == 0 {
		return TruncateRunes(newCallerContext, opts.MaxTotalChars)
	}

	header := fmt.Sprintf("RETURNING CALLER - Call #%d\n", record.CallCount+1)

	noteLines := make([]string, 0, len(record.QuestionsAnswered))
	for _, qID := range record.QuestionsAnswered {
		label := qID
		if q := QuestionByID(questions, qID); q != nil {
			label = q.Short
		}
		note := record.ConversationNotes[qID]
		if note == "" {
			note = "Discussed"
		}
		noteLines = append(noteLines, fmt.Sprintf("- %s: %s", label, note))
	}

	excerpts := recentExcerpts(record, opts.RecentCalls, opts.MaxExcerptChars)

	var footer string
	if next := nextQuestion(record, questions); next != nil {
		footer = fmt.Sprintf("NEXT QUESTION TO ASK:\n%s - %s\n%q", next.ID, next.Short, next.Full)
	} else {
		footer = discoveryCompleteContext
	}

	// Assemble, shedding oldest excerpts and then shrinking notes until
	// the block fits the cap.
	for {
		block := assembleContext(header, noteLines, excerpts, footer)
		if len([]rune(block)) <= opts.MaxTotalChars {
			return block
		}
		if len(excerpts) > 0 {
			excerpts = excerpts[1:]
			continue
		}
		shrunk := false
		for i, line := range noteLines {
			if len([]rune(line)) > 40 {
				noteLines[i] = TruncateRunes(line, 40)
				shrunk = true
			}
		}
		if shrunk {
			continue
		}
		return TruncateRunes(assembleContext(header, noteLines, nil, footer), opts.MaxTotalChars)
	}
}

func assembleContext(header string, noteLines, excerpts []string, footer string) string {
	var b strings.Builder
	b.WriteString(header)
	if len(noteLines) > 0 {
		b.WriteString("\nPREVIOUS PROGRESS:\n")
		for _, line := range noteLines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	if len(excerpts) > 0 {
		b.WriteString("\nRECENT CONVERSATIONS:\n")
		for _, e := range excerpts {
			b.WriteString(e)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	b.WriteString(footer)
	return b.String()
}

// recentExcerpts renders the last n call transcripts oldest-first, each
// capped at maxChars.
func recentExcerpts(record *models.CallerRecord, n, maxChars int) []string {
	if len(record.Transcripts) == 0 {
		return nil
	}
	start := len(record.Transcripts) - n
	if start < 0 {
		start = 0
	}
	var excerpts []string
	for _, tr := range record.Transcripts[start:] {
		var lines []string
		for _, m := range tr.Messages {
			speaker := "User"
			if m.Role == models.RoleAssistant {
				speaker = "Assistant"
			}
			lines = append(lines, speaker+": "+m.Text)
		}
		dialogue := strings.Join(lines, "\n")
		excerpts = append(excerpts, fmt.Sprintf("Call on %s:\n%s", tr.Date.UTC().Format("2006-01-02"), TruncateRunes(dialogue, maxChars)))
	}
	return excerpts
}

func nextQuestion(record *models.CallerRecord, questions []models.Question) *models.Question {
	for i := range questions {
		if !record.Answered(questions[i].ID) {
			return &questions[i]
		}
	}
	return nil
}

// TruncateRunes cuts s to at most max runes, replacing the tail with an
// ellipsis marker when it had to cut. It never splits a multibyte
// character and never returns more than max runes.
func TruncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	const marker = "..."
	if max <= len(marker) {
		return string(runes[:max])
	}
	return string(runes[:max-len(marker)]) + marker
}

// BuildCallSummary regenerates the cached cross-call summary from the
// most recent transcripts. It is always reproducible from the record and
// is rebuilt after every persisted update.
func BuildCallSummary(record *models.CallerRecord, recentCalls, maxExcerptChars int) string {
	if len(record.Transcripts) == 0 {
		return ""
	}
	start := len(record.Transcripts) - recentCalls
	if start < 0 {
		start = 0
	}
	recent := record.Transcripts[start:]

	var b strings.Builder
	b.WriteString("PREVIOUS CONVERSATION HISTORY:\n")
	fmt.Fprintf(&b, "This caller has called %d time(s) before.\n\n", len(recent))
	for i, tr := range recent {
		fmt.Fprintf(&b, "Call %d (%s):\n", i+1, tr.Date.UTC().Format("2006-01-02"))
		var lines []string
		for _, m := range tr.Messages {
			speaker := "User"
			if m.Role == models.RoleAssistant {
				speaker = "Assistant"
			}
			lines = append(lines, speaker+": "+m.Text)
		}
		b.WriteString(TruncateRunes(strings.Join(lines, "\n"), maxExcerptChars))
		b.WriteString("\n\n")
	}
	b.WriteString("IMPORTANT: Reference specific details from the previous conversation history above. The caller expects you to remember what they shared.\n")
	return b.String()
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ianpilon/IOG-Procurement-Voice-AI-system/models"
)

// ErrTranscriptUnavailable means the empathic-voice API had no chat
// events for the call yet; the completion is then recorded with the
// duration heuristic only.
var ErrTranscriptUnavailable = errors.New("transcript not yet available")

const defaultHumeBaseURL = "https://api.hume.ai"

// HumeClient fetches chat transcripts from the empathic-voice platform
// after a call completes. The platform needs a few seconds to process a
// call, so fetches are retried a bounded number of times.
type HumeClient struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client

	// RetryAttempts and RetryDelay bound how long a webhook handler will
	// wait for the platform to finish processing.
	RetryAttempts int
	RetryDelay    time.Duration
}

func NewHumeClient(apiKey string) *HumeClient {
	return &HumeClient{
		APIKey:        apiKey,
		BaseURL:       defaultHumeBaseURL,
		HTTP:          &http.Client{Timeout: 15 * time.Second},
		RetryAttempts: 3,
		RetryDelay:    5 * time.Second,
	}
}

type chatGroupList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

type chatEventList struct {
	Data []struct {
		Type        string `json:"type"`
		MessageText string `json:"messageText"`
		Timestamp   int64  `json:"timestamp"`
	} `json:"data"`
}

// FetchLatestTranscript returns the transcript of the most recent chat
// group, or ErrTranscriptUnavailable when none exists yet.
func (c *HumeClient) FetchLatestTranscript(ctx context.Context) ([]models.TranscriptMessage, error) {
	var groups chatGroupList
	if err := c.getJSON(ctx, "/v0/evi/chat_groups?page_size=20", &groups); err != nil {
		return nil, err
	}
	if len(groups.Data) == 0 {
		return nil, ErrTranscriptUnavailable
	}

	var events chatEventList
	path := fmt.Sprintf("/v0/evi/chat_groups/%s/events?page_size=100", groups.Data[0].ID)
	if err := c.getJSON(ctx, path, &events); err != nil {
		return nil, err
	}

	var transcript []models.TranscriptMessage
	for _, ev := range events.Data {
		var role string
		switch ev.Type {
		case "USER_MESSAGE":
			role = models.RoleUser
		case "AGENT_MESSAGE":
			role = models.RoleAssistant
		default:
			continue
		}
		msg := models.TranscriptMessage{Role: role, Text: ev.MessageText}
		if ev.Timestamp > 0 {
			msg.Timestamp = time.UnixMilli(ev.Timestamp).UTC()
		}
		transcript = append(transcript, msg)
	}
	if len(transcript) == 0 {
		return nil, ErrTranscriptUnavailable
	}
	return transcript, nil
}

// FetchTranscriptWithRetry retries FetchLatestTranscript with a fixed
// delay between attempts.
func (c *HumeClient) FetchTranscriptWithRetry(ctx context.Context) ([]models.TranscriptMessage, error) {
	attempts := c.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.RetryDelay):
			}
		}
		transcript, err := c.FetchLatestTranscript(ctx)
		if err == nil {
			return transcript, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *HumeClient) getJSON(ctx context.Context, path string, out any) error {
	base := c.BaseURL
	if base == "" {
		base = defaultHumeBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Add("X-Hume-Api-Key", c.APIKey)
	req.Header.Add("Content-Type", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("hume api returned %d for %s", res.StatusCode, path)
	}
	return json.Unmarshal(body, out)
}

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianpilon/IOG-Procurement-Voice-AI-system/models"
)

func newTestApp(t *testing.T) (*gin.Engine, *server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := newServer(serverConfig{
		MemoryFile: filepath.Join(t.TempDir(), "conversation-memory.json"),
		BasePrompt: "You are the discovery assistant.",
	})
	app := gin.New()
	srv.registerRoutes(app)
	return app, srv
}

func postJSON(app *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	return w
}

func postForm(app *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	return w
}

func completedCall(app *gin.Engine, phone, sid, duration string) *httptest.ResponseRecorder {
	return postForm(app, "/call-status", url.Values{
		"CallSid":    {sid},
		"CallStatus": {"completed"},
		"From":       {phone},
		"Duration":   {duration},
	})
}

func TestCallStatusCompletedCreatesMemory(t *testing.T) {
	app, srv := newTestApp(t)

	w := completedCall(app, "+15550001111", "CA1", "90")
	require.Equal(t, http.StatusOK, w.Code)

	caller, err := srv.store.Get("+15550001111")
	require.NoError(t, err)
	assert.Equal(t, 1, caller.CallCount)
	assert.Equal(t, []string{"Q1"}, caller.QuestionsAnswered)
	assert.Contains(t, caller.ConversationNotes["Q1"], "90")
}

func TestCallStatusIgnoresInProgress(t *testing.T) {
	app, srv := newTestApp(t)

	w := postForm(app, "/call-status", url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"in-progress"},
		"From":       {"+15550001111"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	callers, err := srv.store.Load()
	require.NoError(t, err)
	assert.Empty(t, callers)
}

func TestCallStatusWithoutPhoneIsDropped(t *testing.T) {
	app, srv := newTestApp(t)

	w := postForm(app, "/call-status", url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"completed"},
		"Duration":   {"90"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	callers, err := srv.store.Load()
	require.NoError(t, err)
	assert.Empty(t, callers)
}

func TestAssistantRequestNewCaller(t *testing.T) {
	app, _ := newTestApp(t)

	w := postJSON(app, "/webhook/assistant-request",
		`{"message":{"type":"assistant-request","call":{"customer":{"number":"+15550001111"}}}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.AssistantResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.NotEmpty(t, resp.Assistant.Model.Messages)
	system := resp.Assistant.Model.Messages[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "You are the discovery assistant.")
	assert.Contains(t, system.Content, "NEW caller")
	assert.Contains(t, resp.Assistant.FirstMessage, "Is now a good time?")
	assert.Contains(t, resp.Assistant.ServerMessages, "end-of-call-report")
}

func TestAssistantRequestReturningCaller(t *testing.T) {
	app, _ := newTestApp(t)

	completedCall(app, "+15550001111", "CA1", "90")

	w := postJSON(app, "/webhook/assistant-request",
		`{"message":{"type":"assistant-request","call":{"customer":{"number":"+15550001111"}}}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.AssistantResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	system := resp.Assistant.Model.Messages[0].Content
	assert.Contains(t, system, "RETURNING CALLER - Call #2")
	assert.Contains(t, system, "Critical Vulnerabilities")
	assert.Contains(t, resp.Assistant.FirstMessage, "pick up where we left off")
}

func TestEndOfCallReportKeywordProgress(t *testing.T) {
	app, srv := newTestApp(t)

	// First contact: a 90s call marks Q1 through the duration heuristic.
	completedCall(app, "+15550001111", "CA1", "90")

	// Second call delivers a transcript mentioning the supplier
	// relationship; Q3 is marked by keyword even though Q2 is still open.
	w := postJSON(app, "/webhook/assistant-request", `{
		"message":{
			"type":"end-of-call-report",
			"call":{"id":"call_2","customer":{"number":"+15550001111"},"duration":150,"endedReason":"customer-ended-call"},
			"artifact":{"messagesOpenAIFormatted":[
				{"role":"system","content":"prompt"},
				{"role":"user","content":"our supplier relationship is the thing I worry about"},
				{"role":"assistant","content":"tell me more about them"}
			]}
		}
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	caller, err := srv.store.Get("+15550001111")
	require.NoError(t, err)
	assert.Equal(t, 2, caller.CallCount)
	assert.Equal(t, []string{"Q1", "Q3"}, caller.QuestionsAnswered)
	assert.NotContains(t, caller.QuestionsAnswered, "Q2")
	require.Len(t, caller.Transcripts, 1)
	assert.NotEmpty(t, caller.CachedSummary)
}

func TestEndOfCallReportWithoutPhone(t *testing.T) {
	app, srv := newTestApp(t)

	w := postJSON(app, "/webhook/assistant-request", `{
		"message":{
			"type":"end-of-call-report",
			"artifact":{"messagesOpenAIFormatted":[{"role":"user","content":"hello"}]}
		}
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	callers, err := srv.store.Load()
	require.NoError(t, err)
	assert.Empty(t, callers)
}

func TestEndOfCallReportWithoutTranscript(t *testing.T) {
	app, srv := newTestApp(t)

	w := postJSON(app, "/webhook/assistant-request", `{
		"message":{
			"type":"end-of-call-report",
			"call":{"id":"call_7","customer":{"number":"+15550001111"}}
		}
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	callers, err := srv.store.Load()
	require.NoError(t, err)
	assert.Empty(t, callers)
}

func TestUnknownWebhookKindIsAcknowledged(t *testing.T) {
	app, _ := newTestApp(t)

	w := postJSON(app, "/webhook/assistant-request", `{"type":"speech-update"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = postJSON(app, "/webhook/assistant-request", `{"hello":"world"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMalformedWebhookBodyIsAcknowledged(t *testing.T) {
	app, _ := newTestApp(t)

	w := postJSON(app, "/webhook/assistant-request", `{not json`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTranscriptEventNeverMutatesStore(t *testing.T) {
	app, srv := newTestApp(t)

	w := postJSON(app, "/webhook/transcript", `{
		"message":{
			"type":"transcript",
			"call":{"id":"call_3","customer":{"number":"+15550001111"}},
			"transcript":{"role":"user","transcript":"partial words"}
		}
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	callers, err := srv.store.Load()
	require.NoError(t, err)
	assert.Empty(t, callers)
}

func TestToolCallArgumentInToolCallListOnly(t *testing.T) {
	app, _ := newTestApp(t)

	completedCall(app, "+15550001111", "CA1", "90")

	w := postJSON(app, "/webhook/assistant-request", `{
		"message":{
			"type":"tool-calls",
			"toolCallList":[{"id":"call_test123","function":{"arguments":{"phone":"+15550001111"}}}]
		}
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ToolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "call_test123", resp.Results[0].ToolCallID)
	assert.Contains(t, resp.Results[0].Result, "RETURNING CALLER")
}

func TestToolCallMissingArgument(t *testing.T) {
	app, _ := newTestApp(t)

	w := postJSON(app, "/webhook/assistant-request", `{
		"message":{
			"type":"tool-calls",
			"toolCallList":[{"id":"call_test456","function":{"arguments":{}}}]
		}
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ToolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Results[0].Result, "Error:")
}

func TestToolCallUnknownCaller(t *testing.T) {
	app, _ := newTestApp(t)

	w := postJSON(app, "/webhook/assistant-request", `{
		"message":{
			"type":"tool-calls",
			"toolCallList":[{"id":"call_test789","function":{"arguments":{"phone":"+15559999999"}}}]
		}
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ToolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Results[0].Result, "No caller memory found")
}

func TestMemoryEndpoints(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/memory/+15550001111", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	completedCall(app, "+15550001111", "CA1", "90")

	req = httptest.NewRequest(http.MethodGet, "/memory/+15550001111", nil)
	w = httptest.NewRecorder()
	app.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var caller models.CallerRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &caller))
	assert.Equal(t, "+15550001111", caller.Phone)
	assert.Equal(t, 1, caller.CallCount)

	req = httptest.NewRequest(http.MethodGet, "/memory", nil)
	w = httptest.NewRecorder()
	app.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "+15550001111")
}

func TestMarkAnsweredEndpoint(t *testing.T) {
	app, srv := newTestApp(t)

	w := postJSON(app, "/mark-answered", `{"phone":"+15550001111","questionId":"Q2"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	completedCall(app, "+15550001111", "CA1", "90")

	w = postJSON(app, "/mark-answered", `{"phone":"+15550001111","questionId":"Q2","notes":"covered on review call"}`)
	require.Equal(t, http.StatusOK, w.Code)

	caller, err := srv.store.Get("+15550001111")
	require.NoError(t, err)
	assert.Equal(t, []string{"Q1", "Q2"}, caller.QuestionsAnswered)
	assert.Equal(t, "covered on review call", caller.ConversationNotes["Q2"])

	w = postJSON(app, "/mark-answered", `{"phone":"+15550001111"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetEndpoint(t *testing.T) {
	app, srv := newTestApp(t)

	completedCall(app, "+15550001111", "CA1", "90")

	req := httptest.NewRequest(http.MethodPost, "/reset/+15550001111", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	callers, err := srv.store.Load()
	require.NoError(t, err)
	assert.Empty(t, callers)

	req = httptest.NewRequest(http.MethodPost, "/reset/+15550001111", nil)
	w = httptest.NewRecorder()
	app.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	completedCall(app, "+15550001111", "CA1", "90")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var health struct {
		Status       string `json:"status"`
		TotalCallers int    `json:"total_callers"`
		Questions    int    `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "running", health.Status)
	assert.Equal(t, 1, health.TotalCallers)
	assert.Equal(t, 4, health.Questions)
}

func TestVoiceWebhookGatherFallback(t *testing.T) {
	app, srv := newTestApp(t)

	w := postForm(app, "/voice", url.Values{
		"From":    {"+15550001111"},
		"CallSid": {"CA1"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/xml")
	// No empathic-voice config in tests, so the gather loop answers.
	assert.Contains(t, w.Body.String(), "<Gather")

	// The incoming-call webhook creates the record lazily.
	caller, err := srv.store.Get("+15550001111")
	require.NoError(t, err)
	assert.Equal(t, 0, caller.CallCount)
}

func TestRebuildSummariesEndpoint(t *testing.T) {
	app, srv := newTestApp(t)

	postJSON(app, "/webhook/assistant-request", `{
		"message":{
			"type":"end-of-call-report",
			"call":{"id":"call_1","customer":{"number":"+15550001111"},"duration":120},
			"artifact":{"messagesOpenAIFormatted":[
				{"role":"user","content":"we nearly failed in 2019"}
			]}
		}
	}`)

	callers, err := srv.store.Load()
	require.NoError(t, err)
	callers["+15550001111"].CachedSummary = ""
	require.NoError(t, srv.store.Save(callers))

	req := httptest.NewRequest(http.MethodPost, "/rebuild-summaries", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	caller, err := srv.store.Get("+15550001111")
	require.NoError(t, err)
	assert.Contains(t, caller.CachedSummary, "nearly failed")
}

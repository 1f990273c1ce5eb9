package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/twilio/twilio-go/twiml"

	"github.com/ianpilon/IOG-Procurement-Voice-AI-system/models"
	"github.com/ianpilon/IOG-Procurement-Voice-AI-system/services"
)

const defaultBasePrompt = `You are a warm, patient discovery assistant for business owners planning their succession. You help them capture the critical knowledge only they hold. This is a relaxed conversation - it can take as long as they need, or be broken into multiple calls. Work through the discovery questions one at a time, let the conversation flow naturally, and never pressure the caller.`

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: cannot retrieve env file, using environment variables")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	srv := newServer(serverConfig{
		MemoryFile:   envOr("MEMORY_FILE", "conversation-memory.json"),
		AnswerPolicy: os.Getenv("ANSWER_POLICY"),
		BasePrompt:   loadBasePrompt(),
		HumeAPIKey:   os.Getenv("HUME_API_KEY"),
		HumeConfigID: os.Getenv("HUME_CONFIG_ID"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
	})

	app := gin.Default()
	srv.registerRoutes(app)

	log.Println("Discovery server with conversation memory started")
	log.Printf("   Port: %s", port)
	log.Printf("   Memory file: %s", srv.store.Path())
	log.Printf("   Answer policy: %s", srv.policy.Name())
	log.Printf("   Discovery questions: %d", len(srv.questions))
	app.Run(":" + port)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadBasePrompt() string {
	path := os.Getenv("BASE_PROMPT_FILE")
	if path == "" {
		return defaultBasePrompt
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Warning: cannot read base prompt %s: %v", path, err)
		return defaultBasePrompt
	}
	return string(data)
}

type serverConfig struct {
	MemoryFile   string
	AnswerPolicy string
	BasePrompt   string
	HumeAPIKey   string
	HumeConfigID string
	OpenAIKey    string
}

type server struct {
	store     *services.MemoryStore
	questions []models.Question
	policy    services.AnswerPolicy
	hub       *services.TranscriptHub
	chat      *services.ChatResponder
	hume      *services.HumeClient

	basePrompt   string
	humeConfigID string
	humeAPIKey   string
}

func newServer(cfg serverConfig) *server {
	s := &server{
		store:        services.NewMemoryStore(cfg.MemoryFile),
		questions:    services.Tier1Questions,
		policy:       services.PolicyFromName(cfg.AnswerPolicy),
		hub:          services.NewTranscriptHub(),
		basePrompt:   cfg.BasePrompt,
		humeConfigID: cfg.HumeConfigID,
		humeAPIKey:   cfg.HumeAPIKey,
	}
	if cfg.OpenAIKey != "" {
		s.chat = services.NewChatResponder(cfg.OpenAIKey, cfg.BasePrompt)
	}
	if cfg.HumeAPIKey != "" {
		s.hume = services.NewHumeClient(cfg.HumeAPIKey)
	}
	go s.hub.Run()
	return s
}

func (s *server) registerRoutes(app *gin.Engine) {
	app.GET("/", s.handleHealth)

	app.POST("/voice", s.handleVoice)
	app.POST("/voice/respond", s.handleVoiceRespond)
	app.POST("/call-status", s.handleCallStatus)

	// The voice platform retries any webhook it sees fail, duplicating
	// side effects, so these handlers must always acknowledge.
	webhooks := app.Group("/webhook", benignRecovery())
	webhooks.POST("/assistant-request", s.handlePlatformWebhook)
	webhooks.POST("/end-of-call-report", s.handlePlatformWebhook)
	webhooks.POST("/transcript", s.handlePlatformWebhook)

	app.GET("/memory", s.handleMemoryAll)
	app.GET("/memory/:phone", s.handleMemoryOne)
	app.POST("/reset/:phone", s.handleReset)
	app.POST("/mark-answered", s.handleMarkAnswered)
	app.POST("/rebuild-summaries", s.handleRebuildSummaries)

	app.GET("/transcripts/:call_id", s.handleTranscriptSocket)
}

// benignRecovery acknowledges with 200 no matter what went wrong while
// handling a platform webhook.
func benignRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Recovered webhook panic: %v", r)
				if !c.Writer.Written() {
					c.JSON(http.StatusOK, gin.H{})
				}
			}
		}()
		c.Next()
	}
}

func (s *server) handleHealth(c *gin.Context) {
	callers, err := s.store.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "running",
		"message":       "Discovery system with conversation memory",
		"total_callers": len(callers),
		"questions":     len(s.questions),
	})
}

// handleVoice answers the telephony provider's incoming-call webhook
// with TwiML. When an empathic-voice config is set the call is handed
// straight to that platform; otherwise the speech-gather fallback loop
// takes over.
func (s *server) handleVoice(c *gin.Context) {
	callerPhone := c.PostForm("From")
	log.Printf("Incoming call from: %s", callerPhone)

	if callerPhone != "" {
		if _, err := s.store.GetOrCreate(callerPhone); err != nil {
			log.Printf("Error touching caller record: %v", err)
		}
	}

	var elements []twiml.Element
	if s.humeConfigID != "" {
		bridge := "https://api.hume.ai/v0/evi/twilio?config_id=" + url.QueryEscape(s.humeConfigID) +
			"&api_key=" + url.QueryEscape(s.humeAPIKey)
		elements = []twiml.Element{
			&twiml.VoicePause{Length: "2"},
			&twiml.VoiceRedirect{Url: bridge},
		}
	} else {
		elements = []twiml.Element{
			&twiml.VoiceSay{Message: "Hey, this is the discovery assistant. How are you doing?"},
			&twiml.VoiceGather{
				Input:         "speech",
				Action:        "/voice/respond",
				SpeechTimeout: "auto",
				Language:      "en-US",
			},
		}
	}

	result, err := twiml.Voice(elements)
	if err != nil {
		s.voiceError(c)
		return
	}
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, result)
}

// handleVoiceRespond continues the gather loop: the caller's transcribed
// speech is answered with a chat completion carrying their cross-call
// memory, then we listen again.
func (s *server) handleVoiceRespond(c *gin.Context) {
	userSpeech := c.PostForm("SpeechResult")
	callSid := c.PostForm("CallSid")
	callerPhone := c.PostForm("From")

	if userSpeech == "" {
		result, err := twiml.Voice([]twiml.Element{
			&twiml.VoiceSay{Message: "I didn't catch that. Could you repeat?"},
			&twiml.VoiceRedirect{Url: "/voice"},
		})
		if err != nil {
			s.voiceError(c)
			return
		}
		c.Header("Content-Type", "text/xml")
		c.String(http.StatusOK, result)
		return
	}

	if s.chat == nil {
		s.voiceError(c)
		return
	}

	callerContext := ""
	if callerPhone != "" {
		if caller, err := s.store.GetOrCreate(callerPhone); err == nil {
			callerContext = services.BuildContext(caller, s.questions, services.DefaultContextOptions())
		}
	}

	reply, err := s.chat.Respond(c.Request.Context(), callSid, callerContext, userSpeech)
	if err != nil || reply == "" {
		log.Printf("Chat completion error: %v", err)
		s.voiceError(c)
		return
	}

	result, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: reply},
		&twiml.VoiceGather{
			Input:         "speech",
			Action:        "/voice/respond",
			SpeechTimeout: "auto",
			Language:      "en-US",
		},
		&twiml.VoiceSay{Message: "Are you still there?"},
		&twiml.VoiceRedirect{Url: "/voice"},
	})
	if err != nil {
		s.voiceError(c)
		return
	}
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, result)
}

func (s *server) voiceError(c *gin.Context) {
	result, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: "Sorry, there was a technical issue. Please try again later."},
	})
	if err != nil {
		c.String(http.StatusOK, "")
		return
	}
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, result)
}

// handleCallStatus is the telephony provider's status callback and the
// fallback completion path when the voice platform delivers no
// structured end-of-call report.
func (s *server) handleCallStatus(c *gin.Context) {
	callSid := c.PostForm("CallSid")
	callStatus := c.PostForm("CallStatus")
	from := c.PostForm("From")
	duration, _ := strconv.Atoi(c.PostForm("Duration"))

	log.Printf("Call status: %s (sid=%s from=%s duration=%ds)", callStatus, callSid, from, duration)

	if s.chat != nil && callStatus == "completed" {
		s.chat.EndCall(callSid)
	}

	if callStatus != "completed" {
		c.Status(http.StatusOK)
		return
	}
	if from == "" {
		log.Printf("Warning: completed call %s has no caller number, dropping", callSid)
		c.Status(http.StatusOK)
		return
	}

	signals := models.CallSignals{
		CallID:       callSid,
		Date:         time.Now().UTC(),
		DurationSecs: duration,
		EndReason:    callStatus,
	}
	if signals.CallID == "" {
		signals.CallID = uuid.New().String()
	}

	if s.hume != nil {
		// The empathic-voice platform needs a few seconds to publish the
		// chat transcript; fetch it off the request path so the provider
		// gets its acknowledgement before it times out.
		go s.recordWithTranscript(from, signals)
	} else {
		s.recordCompletion(from, signals)
	}

	c.Status(http.StatusOK)
}

func (s *server) recordWithTranscript(phone string, signals models.CallSignals) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	transcript, err := s.hume.FetchTranscriptWithRetry(ctx)
	if err != nil {
		log.Printf("Transcript unavailable for %s, recording duration only: %v", signals.CallID, err)
	} else {
		signals.Transcript = transcript
	}
	s.recordCompletion(phone, signals)
}

func (s *server) recordCompletion(phone string, signals models.CallSignals) {
	caller, err := s.store.RecordCall(phone, signals, s.questions, s.policy)
	if err != nil {
		log.Printf("Error updating caller memory: %v", err)
		return
	}
	log.Printf("Updated memory for %s: call #%d, %d/%d questions", phone, caller.CallCount, len(caller.QuestionsAnswered), len(s.questions))
}

// handlePlatformWebhook is the universal receiver for the hosted voice
// platform's server messages. The platform has shipped several payload
// shapes over time; classification and field extraction tolerate all of
// them, and every outcome is acknowledged with 200.
func (s *server) handlePlatformWebhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Printf("Error reading webhook body: %v", err)
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		log.Printf("Error parsing webhook body: %v", err)
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	kind := services.ClassifyEvent(body)
	switch kind {
	case services.EventAssistantRequest:
		s.handleAssistantRequest(c, body)
	case services.EventEndOfCallReport:
		s.handleEndOfCall(c, body)
	case services.EventTranscript:
		s.handleLiveTranscript(c, body)
	case services.EventToolCalls:
		s.handleToolCalls(c, body)
	case services.EventStatusUpdate:
		c.JSON(http.StatusOK, gin.H{})
	default:
		log.Printf("Unknown webhook message type: %q", kind)
		c.JSON(http.StatusOK, gin.H{})
	}
}

func (s *server) handleAssistantRequest(c *gin.Context, body map[string]any) {
	phone, ok := services.ExtractCallerPhone(body)
	log.Printf("Assistant request from: %s", phone)

	systemPrompt := s.basePrompt
	firstMessage := "Hey, this is the discovery assistant. We help business owners preserve what they've built. This is a relaxed conversation - we can take as long as you need, or break it into multiple calls. Is now a good time?"

	if ok {
		caller, err := s.store.GetOrCreate(phone)
		if err != nil {
			log.Printf("Error loading caller %s: %v", phone, err)
		} else {
			callerContext := services.BuildContext(caller, s.questions, services.DefaultContextOptions())
			systemPrompt = s.basePrompt + "\n\n=== CONVERSATION MEMORY ===\n" + callerContext
			if caller.CallCount > 0 {
				firstMessage = "Hey! Good to hear from you again. Let's pick up where we left off."
			}
		}
	} else {
		log.Printf("Warning: assistant request carries no caller number")
	}

	c.JSON(http.StatusOK, models.AssistantResponse{
		Assistant: models.Assistant{
			Model: models.AssistantModel{
				Provider:    "openai",
				Model:       "gpt-4",
				Temperature: 0.7,
				Messages: []models.ChatMessage{
					{Role: "system", Content: systemPrompt},
				},
			},
			Voice: models.AssistantVoice{
				Provider: "hume",
				VoiceID:  "de314c2f-0013-4e7c-92d0-f60ca114ff5b",
			},
			FirstMessage:     firstMessage,
			RecordingEnabled: true,
			Transcriber: models.Transcriber{
				Provider: "deepgram",
				Model:    "nova-2",
				Language: "en",
			},
			EndCallPhrases:     []string{"goodbye", "bye", "talk to you later", "gotta go", "have to go"},
			MaxDurationSeconds: 1800,
			ServerMessages:     []string{"end-of-call-report", "transcript"},
		},
	})
}

func (s *server) handleEndOfCall(c *gin.Context, body map[string]any) {
	phone, ok := services.ExtractCallerPhone(body)
	transcript := services.ExtractTranscript(body)
	callID := services.ExtractCallID(body)
	duration, endReason := services.ExtractCallMeta(body)

	log.Printf("Call ended: %s (customer=%s, %d transcript messages)", callID, phone, len(transcript))

	if !ok || len(transcript) == 0 {
		log.Printf("Warning: no phone number or transcript in end-of-call report, skipping save")
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	if callID == "" {
		callID = uuid.New().String()
	}
	s.recordCompletion(phone, models.CallSignals{
		CallID:       callID,
		Date:         time.Now().UTC(),
		DurationSecs: duration,
		EndReason:    endReason,
		Transcript:   transcript,
	})
	c.JSON(http.StatusOK, gin.H{})
}

// handleLiveTranscript mirrors streaming transcript chunks to dashboard
// clients. Partial transcripts are not authoritative and never touch the
// persisted store.
func (s *server) handleLiveTranscript(c *gin.Context, body map[string]any) {
	role, text := services.ExtractLiveTranscript(body)
	callID := services.ExtractCallID(body)
	log.Printf("Transcript [%s] %s: %s", callID, role, text)

	if text != "" {
		s.hub.Broadcast(callID, models.TranscriptUpdate{
			Type:    "transcript",
			CallID:  callID,
			Role:    role,
			Text:    text,
			Partial: true,
		})
	}
	c.JSON(http.StatusOK, gin.H{})
}

// handleToolCalls serves the assistant's lookup_caller_memory tool. A
// missing argument is answered as a readable error result, not an HTTP
// failure, so the assistant can react conversationally.
func (s *server) handleToolCalls(c *gin.Context, body map[string]any) {
	toolCallID := services.ExtractToolCallID(body)
	phone, ok := services.ExtractArgument(body, "phone")
	if !ok {
		phone, ok = services.ExtractArgument(body, "query")
	}
	if !ok || phone == "" {
		log.Printf("Tool call %s carries no lookup argument", toolCallID)
		c.JSON(http.StatusOK, models.ToolResponse{Results: []models.ToolResult{{
			ToolCallID: toolCallID,
			Result:     "Error: phone parameter is required",
		}}})
		return
	}

	caller, err := s.store.Get(phone)
	if err != nil {
		result := "No caller memory found for " + phone
		if !errors.Is(err, services.ErrCallerNotFound) {
			log.Printf("Error looking up caller %s: %v", phone, err)
			result = "Error: caller memory is temporarily unavailable"
		}
		c.JSON(http.StatusOK, models.ToolResponse{Results: []models.ToolResult{{
			ToolCallID: toolCallID,
			Result:     result,
		}}})
		return
	}

	c.JSON(http.StatusOK, models.ToolResponse{Results: []models.ToolResult{{
		ToolCallID: toolCallID,
		Result:     services.BuildContext(caller, s.questions, services.DefaultContextOptions()),
	}}})
}

func (s *server) handleMemoryAll(c *gin.Context) {
	callers, err := s.store.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"callers": callers})
}

func (s *server) handleMemoryOne(c *gin.Context) {
	caller, err := s.store.Get(c.Param("phone"))
	if errors.Is(err, services.ErrCallerNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Caller not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, caller)
}

func (s *server) handleReset(c *gin.Context) {
	err := s.store.Reset(c.Param("phone"))
	if errors.Is(err, services.ErrCallerNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Caller not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Caller reset successfully"})
}

func (s *server) handleMarkAnswered(c *gin.Context) {
	var req struct {
		Phone      string `json:"phone"`
		QuestionID string `json:"questionId"`
		Notes      string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" || req.QuestionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone and questionId required"})
		return
	}

	caller, err := s.store.MarkAnswered(req.Phone, req.QuestionID, req.Notes)
	if errors.Is(err, services.ErrCallerNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Caller not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Question marked as answered", "caller": caller})
}

func (s *server) handleRebuildSummaries(c *gin.Context) {
	n, err := s.store.RebuildSummaries()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Summaries rebuilt", "callers": n})
}

// handleTranscriptSocket subscribes a dashboard client to a call's live
// transcript stream.
func (s *server) handleTranscriptSocket(c *gin.Context) {
	callID := c.Param("call_id")

	upgrader := websocket.Upgrader{}
	upgrader.CheckOrigin = func(r *http.Request) bool { return true }

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Error upgrading connection: %v", err)
		return
	}

	client := &services.Client{
		ID:     uuid.New().String(),
		Conn:   conn,
		CallID: callID,
		Send:   make(chan []byte, 16),
		Hub:    s.hub,
	}
	conn.WriteJSON(models.ConnectionResponse{
		Type:    "connection",
		Status:  "subscribed",
		Message: "Watching live transcript",
		CallID:  callID,
	})

	s.hub.Register <- client
	go client.WritePump()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.Unregister <- client
}

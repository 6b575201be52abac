package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dotcommander/codexmem/internal/app"
	"github.com/dotcommander/codexmem/internal/models"
	"github.com/dotcommander/codexmem/internal/store"
	"github.com/dotcommander/codexmem/internal/tags"
)

type sessionInitRequest struct {
	ContentSessionID string `json:"contentSessionId" binding:"required"`
	Project          string `json:"project" binding:"required"`
	Prompt           string `json:"prompt"`
	Platform         string `json:"platform"`
}

type observationRequest struct {
	ContentSessionID string          `json:"contentSessionId" binding:"required"`
	ToolName         string          `json:"tool_name"`
	ToolInput        json.RawMessage `json:"tool_input"`
	ToolResponse     json.RawMessage `json:"tool_response"`
	Cwd              string          `json:"cwd"`
	TimestampEpoch   int64           `json:"timestamp_epoch"`
}

type summarizeRequest struct {
	ContentSessionID     string `json:"contentSessionId" binding:"required"`
	LastAssistantMessage string `json:"last_assistant_message"`
}

// abortError writes the structured envelope for a failed request. Enriched
// errors carry their code and context; everything else is a bare message.
func abortError(c *gin.Context, status int, err error) {
	var rec models.RecoverableError
	if errors.As(err, &rec) {
		c.JSON(status, gin.H{
			"error":   rec.Error(),
			"code":    rec.ErrorCode(),
			"context": rec.Context(),
			"action":  rec.SuggestedAction(),
		})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// lookupSession resolves a content session id or writes the 404 envelope.
func (s *Server) lookupSession(c *gin.Context, contentSessionID string) (*models.Session, bool) {
	sess, err := store.GetSessionByContentID(s.db, contentSessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abortError(c, http.StatusNotFound, &store.SessionNotFoundError{ContentSessionID: contentSessionID})
			return nil, false
		}
		abortError(c, http.StatusInternalServerError, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) sessionInit(c *gin.Context) {
	var req sessionInitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}

	platform := models.Platform(req.Platform)
	if req.Platform == "" {
		platform = models.PlatformHostedAgent
	}
	if !platform.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown platform", "platform": req.Platform})
		return
	}

	// Wholly-private prompts are acknowledged and forgotten: no session row,
	// no prompt row, no broadcast.
	if tags.IsWhollyPrivate(req.Prompt) {
		c.JSON(http.StatusOK, gin.H{"skipped": true, "reason": "private"})
		return
	}
	prompt := tags.StripAll(req.Prompt)

	sess, created, err := store.CreateOrGetSession(s.db, req.ContentSessionID, req.Project, prompt, platform)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}

	promptNumber := 0
	if prompt != "" {
		promptNumber, err = store.AppendUserPrompt(s.db, sess.ContentSessionID, prompt)
		if err != nil {
			abortError(c, http.StatusInternalServerError, err)
			return
		}
	}

	if created {
		s.broadcast.Publish(models.BroadcastEvent{
			Type:             models.EventSessionStarted,
			ContentSessionID: sess.ContentSessionID,
			Project:          sess.Project,
		})
	}
	// claude-code hooks announce prompts through POST /sessions/:id/init;
	// broadcasting here too would double every status-line update.
	if promptNumber > 0 && platform != models.PlatformClaudeCode {
		s.broadcast.Publish(models.BroadcastEvent{
			Type:             models.EventNewPrompt,
			ContentSessionID: sess.ContentSessionID,
			Project:          sess.Project,
			PromptNumber:     promptNumber,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"skipped":      false,
		"sessionDbId":  sess.ID,
		"created":      created,
		"promptNumber": promptNumber,
	})
}

// sessionInitByID is the legacy dual-entry path: claude-code hooks call it
// after /sessions/init to trigger the new_prompt broadcast.
func (s *Server) sessionInitByID(c *gin.Context) {
	sess, ok := s.lookupSession(c, c.Param("id"))
	if !ok {
		return
	}

	promptNumber, err := store.LatestPromptNumber(s.db, sess.ContentSessionID)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}

	s.broadcast.Publish(models.BroadcastEvent{
		Type:             models.EventNewPrompt,
		ContentSessionID: sess.ContentSessionID,
		Project:          sess.Project,
		PromptNumber:     promptNumber,
	})
	c.JSON(http.StatusOK, gin.H{"broadcast": true, "promptNumber": promptNumber})
}

func (s *Server) enqueueObservation(c *gin.Context) {
	var req observationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.lookupSession(c, req.ContentSessionID)
	if !ok {
		return
	}

	if isObserverBootstrap(req.ToolName, req.ToolInput, req.ToolResponse) {
		c.JSON(http.StatusOK, gin.H{"status": "skipped", "reason": "observer_bootstrap"})
		return
	}

	promptNumber, err := store.LatestPromptNumber(s.db, sess.ContentSessionID)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}

	ts := req.TimestampEpoch
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}
	payload := models.ObservationPayload{
		ToolName:       req.ToolName,
		ToolInput:      req.ToolInput,
		ToolResponse:   req.ToolResponse,
		Cwd:            req.Cwd,
		PromptNumber:   promptNumber,
		TimestampEpoch: ts,
	}

	cfg := app.LoadConfig()
	msg, err := store.EnqueuePendingMessage(s.db, sess.ID, sess.ContentSessionID, models.MessageTypeObservation, payload, cfg.MaxPendingPerSession)
	if err != nil {
		if errors.Is(err, store.ErrQueueFull) {
			abortError(c, http.StatusTooManyRequests, err)
			return
		}
		abortError(c, http.StatusInternalServerError, err)
		return
	}

	depth, _ := store.CountPendingMessages(s.db, sess.ID)
	s.broadcast.Publish(models.BroadcastEvent{
		Type:             models.EventObservationQueued,
		ContentSessionID: sess.ContentSessionID,
		Project:          sess.Project,
		PromptNumber:     promptNumber,
		QueueDepth:       depth,
	})
	s.sched.Kick(sess.ID, msg.CreatedAtEpoch)

	c.JSON(http.StatusOK, gin.H{"status": "queued", "queueDepth": depth})
}

func (s *Server) enqueueSummarize(c *gin.Context) {
	var req summarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.lookupSession(c, req.ContentSessionID)
	if !ok {
		return
	}

	payload := models.SummarizePayload{LastAssistantMessage: req.LastAssistantMessage}
	cfg := app.LoadConfig()
	msg, err := store.EnqueuePendingMessage(s.db, sess.ID, sess.ContentSessionID, models.MessageTypeSummarize, payload, cfg.MaxPendingPerSession)
	if err != nil {
		if errors.Is(err, store.ErrQueueFull) {
			abortError(c, http.StatusTooManyRequests, err)
			return
		}
		abortError(c, http.StatusInternalServerError, err)
		return
	}

	depth, _ := store.CountPendingMessages(s.db, sess.ID)
	s.broadcast.Publish(models.BroadcastEvent{
		Type:             models.EventSummarizeQueued,
		ContentSessionID: sess.ContentSessionID,
		Project:          sess.Project,
		QueueDepth:       depth,
	})
	s.sched.Kick(sess.ID, msg.CreatedAtEpoch)

	c.JSON(http.StatusOK, gin.H{"status": "queued", "queueDepth": depth})
}

func (s *Server) deleteSession(c *gin.Context) {
	sess, ok := s.lookupSession(c, c.Param("id"))
	if !ok {
		return
	}

	aborted := s.sched.Abort(sess.ID)
	purged, err := store.PurgeSessionQueue(s.db, sess.ID)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "aborted": aborted, "purged": purged})
}

func (s *Server) health(c *gin.Context) {
	current, latest, err := store.SchemaVersion(s.db)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  s.version,
		"uptimeMs": time.Since(s.startedAt).Milliseconds(),
		"schema":   gin.H{"current": current, "latest": latest},
	})
}

func (s *Server) stats(c *gin.Context) {
	stats, err := store.GetStats(s.db)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	total, _ := store.CountPendingMessages(s.db, 0)

	c.JSON(http.StatusOK, gin.H{
		"stats":           stats,
		"totalPending":    total,
		"activeSessions":  s.sched.ActiveCount(),
		"waitingSessions": s.sched.WaitingCount(),
		"activeProviders": s.runner.ActiveProviders(),
		"diagnostics":     s.runner.Diagnostics(),
		"sseClients":      s.broadcast.ClientCount(),
	})
}

func (s *Server) events(c *gin.Context) {
	id, ch := s.broadcast.Subscribe()
	defer s.broadcast.Unsubscribe(id)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	// Flush the headers now so clients see the stream open before the
	// first event fires.
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent(ev.Type, ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// isObserverBootstrap recognises the worker's own tooling reflected back
// through a host hook: MCP calls against the memory server, payloads still
// carrying an injected context wrapper, or a response that opens with one.
// Distilling those would have the agent observing itself.
func isObserverBootstrap(toolName string, toolInput, toolResponse []byte) bool {
	if strings.HasPrefix(toolName, "mcp__codexmem") || strings.HasPrefix(toolName, "mcp__codex-mem") {
		return true
	}
	if bytes.Contains(toolInput, []byte("<"+tags.ContextTag+">")) ||
		bytes.Contains(toolInput, []byte("<"+tags.LegacyContextTag+">")) {
		return true
	}
	// tool_response may be a JSON string; skip the opening quote before the
	// prefix check.
	resp := bytes.TrimLeft(toolResponse, " \t\r\n\"")
	return bytes.HasPrefix(resp, []byte("<"+tags.ContextTag+">")) ||
		bytes.HasPrefix(resp, []byte("<"+tags.LegacyContextTag+">"))
}

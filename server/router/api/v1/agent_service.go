package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/shopmind/shopmind/plugin/woocommerce"
	"github.com/shopmind/shopmind/server/agent"
	"github.com/shopmind/shopmind/server/agent/toolkit"
	"github.com/shopmind/shopmind/store"
)

const (
	defaultThreadTitle = "New Chat"
	maxThreadsPage     = 100
)

// ─────────────────────────────────────────────────────────────────────────────
// Request / Response types
// ─────────────────────────────────────────────────────────────────────────────

type chatOptions struct {
	Provider               string                   `json:"provider"`
	Model                  string                   `json:"model"`
	APIKey                 string                   `json:"apiKey"`
	Temperature            float64                  `json:"temperature"`
	SystemPrompt           string                   `json:"systemPrompt"`
	Tools                  []toolDefinition         `json:"tools"`
	AllowedTools           []string                 `json:"allowedTools"`
	ApproveAllTools        bool                     `json:"approveAllTools"`
	WooCommerceCredentials *woocommerce.Credentials `json:"wooCommerceCredentials"`
}

// toolDefinition is a caller-supplied ad-hoc tool. When the model calls it, the
// tool answers with Result, or echoes its arguments when Result is empty.
type toolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  map[string]any  `json:"parameters"`
	Result      json.RawMessage `json:"result"`
}

type chatRequest struct {
	Message string      `json:"message"`
	UserID  string      `json:"userId"`
	Opts    chatOptions `json:"opts"`
}

type threadRequest struct {
	ID         string  `json:"id"`
	UserID     string  `json:"userId"`
	Title      *string `json:"title"`
	Bookmarked *bool   `json:"bookmarked"`
}

type threadResponse struct {
	ID         string           `json:"id"`
	UserID     string           `json:"userId,omitempty"`
	Title      string           `json:"title"`
	Bookmarked bool             `json:"bookmarked"`
	TokenUsage store.TokenUsage `json:"tokenUsage"`
	CreatedTs  int64            `json:"createdTs"`
	UpdatedTs  int64            `json:"updatedTs"`
}

type approvalRequest struct {
	ToolCallID string `json:"toolCallId"`
	Action     string `json:"action"`
}

type messageActionRequest struct {
	MessageID string `json:"messageId"`
	Action    string `json:"action"`
	UserID    string `json:"userId"`
}

type messageActionResponse struct {
	ThreadID     string `json:"threadId"`
	MessageIndex int    `json:"messageIndex"`
	MessageID    string `json:"messageId,omitempty"`
	store.MessageFlags
}

func toThreadResponse(t *store.Thread) threadResponse {
	return threadResponse{
		ID:         t.ID,
		UserID:     t.UserID,
		Title:      t.Title,
		Bookmarked: t.Bookmarked,
		TokenUsage: t.TokenUsage,
		CreatedTs:  t.CreatedTs,
		UpdatedTs:  t.UpdatedTs,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Route registration (called from v1.go)
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) registerAgentRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/agent")
	g.GET("/threads", s.listThreads)
	g.POST("/threads", s.createThread)
	g.GET("/threads/:id", s.getThread)
	g.PATCH("/threads/:id", s.updateThread)
	g.GET("/threads/:id/messages", s.listMessages)
	g.POST("/threads/:id/messages/:index/actions", s.applyMessageAction)
	g.GET("/threads/:id/approvals", s.listApprovals)
	g.POST("/threads/:id/chat", s.handleChat)
	g.POST("/approvals", s.resolveApproval)
}

// ─────────────────────────────────────────────────────────────────────────────
// Thread CRUD
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) listThreads(c *echo.Context) error {
	find := &store.FindThread{}
	if userID := c.QueryParam("userId"); userID != "" {
		find.UserID = &userID
	}
	limit := maxThreadsPage
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxThreadsPage)
	}
	find.Limit = &limit

	threads, err := s.Store.ListThreads(c.Request().Context(), find)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]threadResponse, 0, len(threads))
	for _, t := range threads {
		resp = append(resp, toThreadResponse(t))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIV1Service) createThread(c *echo.Context) error {
	var req threadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" {
		req.ID = shortuuid.New()
	}
	title := defaultThreadTitle
	if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
		title = strings.TrimSpace(*req.Title)
	}
	ctx := c.Request().Context()
	existing, err := s.Store.GetThread(ctx, req.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if existing != nil {
		return echo.NewHTTPError(http.StatusConflict, "thread already exists")
	}
	thread, err := s.Store.CreateThread(ctx, &store.Thread{
		ID:     req.ID,
		UserID: req.UserID,
		Title:  title,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, toThreadResponse(thread))
}

func (s *APIV1Service) getThread(c *echo.Context) error {
	thread, err := s.findThread(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toThreadResponse(thread))
}

func (s *APIV1Service) updateThread(c *echo.Context) error {
	thread, err := s.findThread(c)
	if err != nil {
		return err
	}
	var req threadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Title == nil && req.Bookmarked == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "title or bookmarked required")
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title must not be empty")
	}
	updated, err := s.Store.UpdateThread(c.Request().Context(), &store.UpdateThread{
		ID:         thread.ID,
		Title:      req.Title,
		Bookmarked: req.Bookmarked,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toThreadResponse(updated))
}

func (s *APIV1Service) listMessages(c *echo.Context) error {
	thread, err := s.findThread(c)
	if err != nil {
		return err
	}
	state, err := s.Runner.Conversations().State(c.Request().Context(), thread.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	messages := state.Messages
	if messages == nil {
		messages = []*store.Message{}
	}
	return c.JSON(http.StatusOK, messages)
}

func (s *APIV1Service) applyMessageAction(c *echo.Context) error {
	thread, err := s.findThread(c)
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "message index must be a non-negative integer")
	}
	var req messageActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	action, err := store.ParseMessageAction(req.Action)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	row, err := s.Store.ApplyMessageAction(c.Request().Context(), &store.UpdateMessageAction{
		ThreadID:     thread.ID,
		MessageIndex: index,
		MessageID:    req.MessageID,
		UserID:       req.UserID,
		Action:       action,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := messageActionResponse{
		ThreadID:     row.ThreadID,
		MessageIndex: row.MessageIndex,
		MessageFlags: row.MessageFlags,
	}
	if row.MessageID != nil {
		resp.MessageID = *row.MessageID
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIV1Service) findThread(c *echo.Context) (*store.Thread, error) {
	thread, err := s.Store.GetThread(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if thread == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	return thread, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Approvals
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) listApprovals(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.Runner.Approvals().Pending(c.Param("id")))
}

func (s *APIV1Service) resolveApproval(c *echo.Context) error {
	var req approvalRequest
	if err := c.Bind(&req); err != nil || req.ToolCallID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "toolCallId required")
	}
	action, err := agent.ParseApprovalAction(req.Action)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.Runner.Approvals().Resolve(req.ToolCallID, action); err != nil {
		if errors.Is(err, agent.ErrApprovalNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ─────────────────────────────────────────────────────────────────────────────
// Main chat handler (SSE)
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) handleChat(c *echo.Context) error {
	threadID := c.Param("id")
	var req chatRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	if creds := req.Opts.WooCommerceCredentials; creds != nil {
		if err := creds.Validate(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	extraTools, err := adHocTools(req.Opts.Tools)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()

	// ── Set up SSE ───────────────────────────────────────────────────────────
	rw := c.Response()
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.Header().Set("X-Accel-Buffering", "no")
	rw.WriteHeader(http.StatusOK)

	flush := func() {
		if f, ok := rw.(http.Flusher); ok {
			f.Flush()
		}
	}
	emit := func(eventType, payload string) {
		data, _ := json.Marshal(map[string]string{"type": eventType, "content": payload})
		fmt.Fprintf(rw, "data: %s\n\n", data)
		flush()
	}
	emitJSON := func(eventType string, obj any) {
		inner, _ := json.Marshal(obj)
		data, _ := json.Marshal(map[string]json.RawMessage{
			"type":    json.RawMessage(`"` + eventType + `"`),
			"payload": inner,
		})
		fmt.Fprintf(rw, "data: %s\n\n", data)
		flush()
	}

	reported := false
	sink := func(ev agent.Event) {
		switch ev.Type {
		case agent.EventMessage:
			emitJSON(string(ev.Type), ev.Message)
		case agent.EventApprovalRequired:
			emitJSON(string(ev.Type), ev.ToolCall)
		case agent.EventError:
			reported = true
			emit(string(ev.Type), ev.Content)
		case agent.EventDone:
			emit(string(ev.Type), ev.ThreadID)
		default:
			emit(string(ev.Type), ev.Content)
		}
	}

	cfg := agent.Config{
		Provider:        req.Opts.Provider,
		Model:           req.Opts.Model,
		APIKey:          req.Opts.APIKey,
		Temperature:     req.Opts.Temperature,
		SystemPrompt:    req.Opts.SystemPrompt,
		Tools:           req.Opts.AllowedTools,
		ExtraTools:      extraTools,
		ApproveAllTools: req.Opts.ApproveAllTools,
		Credentials:     req.Opts.WooCommerceCredentials,
		UserID:          req.UserID,
	}
	if _, err := s.Runner.RunTurn(ctx, threadID, req.Message, cfg, sink); err != nil {
		slog.Warn("agent turn failed", "thread", threadID, "err", err)
		if !reported {
			emit(string(agent.EventError), err.Error())
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Ad-hoc tools
// ─────────────────────────────────────────────────────────────────────────────

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

func adHocTools(defs []toolDefinition) ([]toolkit.Tool, error) {
	list := make([]toolkit.Tool, 0, len(defs))
	seen := map[string]bool{}
	for _, def := range defs {
		if !toolNamePattern.MatchString(def.Name) {
			return nil, errors.Errorf("invalid tool name %q", def.Name)
		}
		if seen[def.Name] {
			return nil, errors.Errorf("duplicate tool name %q", def.Name)
		}
		seen[def.Name] = true

		schema := def.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		// NewTool reads required names as []string; decoded JSON carries []any.
		if raw, ok := schema["required"].([]any); ok {
			required := make([]string, 0, len(raw))
			for _, v := range raw {
				if name, ok := v.(string); ok {
					required = append(required, name)
				}
			}
			schema["required"] = required
		}

		var result any
		if len(def.Result) > 0 {
			if err := json.Unmarshal(def.Result, &result); err != nil {
				return nil, errors.Wrapf(err, "invalid result for tool %q", def.Name)
			}
		}
		list = append(list, toolkit.NewTool(def.Name, def.Description, schema, func(_ context.Context, args toolkit.Args) (any, error) {
			if result != nil {
				return result, nil
			}
			return map[string]any(args), nil
		}))
	}
	return list, nil
}

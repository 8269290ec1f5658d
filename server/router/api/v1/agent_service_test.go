package v1

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/shopmind/shopmind/internal/profile"
	"github.com/shopmind/shopmind/plugin/llm"
	"github.com/shopmind/shopmind/server/agent"
	"github.com/shopmind/shopmind/server/agent/toolkit"
	"github.com/shopmind/shopmind/store"
	storetest "github.com/shopmind/shopmind/store/test"
)

// queueModel answers with queued responses, then with plain text. It records the
// tool names offered on each call.
type queueModel struct {
	mu      sync.Mutex
	queue   []*llms.ContentResponse
	offered [][]string
}

func (m *queueModel) GenerateContent(_ context.Context, _ []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	names := make([]string, 0, len(opts.Tools))
	for _, tool := range opts.Tools {
		if tool.Function != nil {
			names = append(names, tool.Function.Name)
		}
	}
	m.offered = append(m.offered, names)
	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		return resp, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "All good here."}}}, nil
}

func (m *queueModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type sseEvent struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Payload json.RawMessage `json:"payload"`
}

func newTestService(ctx context.Context, t *testing.T, model llms.Model) (*echo.Echo, *APIV1Service) {
	t.Helper()
	st := storetest.NewTestingStore(ctx, t)
	runner := agent.NewRunner(st, toolkit.NewAssembler(),
		agent.WithModelFactory(func(context.Context, llm.Config) (llms.Model, error) { return model, nil }),
		agent.WithApprovalGate(agent.NewApprovalGate(30*time.Second)),
	)
	s := NewAPIV1Service(&profile.Profile{Mode: "dev"}, st, runner)
	e := echo.New()
	s.RegisterRoutes(e)
	return e, s
}

func doJSON(t *testing.T, e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload string
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = string(b)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func readEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev sseEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func chatBody(message string) map[string]any {
	return map[string]any{
		"message": message,
		"userId":  "user-1",
		"opts": map[string]any{
			"provider":        "openai",
			"model":           "gpt-4o",
			"apiKey":          "sk-test",
			"approveAllTools": true,
		},
	}
}

func TestChatStreamsTurn(t *testing.T) {
	ctx := context.Background()
	e, s := newTestService(ctx, t, &queueModel{})

	rec := doJSON(t, e, http.MethodPost, "/api/v1/agent/threads/thread-1/chat", chatBody("How is my store doing?"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := readEvents(t, rec.Body.String())
	require.NotEmpty(t, events)
	require.Equal(t, "message", events[0].Type)
	last := events[len(events)-1]
	require.Equal(t, "done", last.Type)
	require.Equal(t, "thread-1", last.Content)

	var tokens strings.Builder
	for _, ev := range events {
		if ev.Type == "token" {
			tokens.WriteString(ev.Content)
		}
	}
	require.Equal(t, "All good here.", strings.TrimSpace(tokens.String()))

	thread, err := s.Store.GetThread(ctx, "thread-1")
	require.NoError(t, err)
	require.Equal(t, "How is my store doing?", thread.Title)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestService(ctx, t, &queueModel{})
	rec := doJSON(t, e, http.MethodPost, "/api/v1/agent/threads/thread-1/chat", chatBody("  "))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRejectsPartialCredentials(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestService(ctx, t, &queueModel{})
	body := chatBody("Orders?")
	body["opts"].(map[string]any)["wooCommerceCredentials"] = map[string]any{"url": "https://shop.example"}
	rec := doJSON(t, e, http.MethodPost, "/api/v1/agent/threads/thread-1/chat", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "consumerKey")
}

func TestChatStreamsConfigurationError(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewTestingStore(ctx, t)
	s := NewAPIV1Service(&profile.Profile{Mode: "dev"}, st, agent.NewRunner(st, toolkit.NewAssembler()))
	e := echo.New()
	s.RegisterRoutes(e)

	body := chatBody("Hi")
	body["opts"].(map[string]any)["apiKey"] = ""
	rec := doJSON(t, e, http.MethodPost, "/api/v1/agent/threads/thread-1/chat", body)
	require.Equal(t, http.StatusOK, rec.Code)

	events := readEvents(t, rec.Body.String())
	var errorsSeen int
	for _, ev := range events {
		if ev.Type == "error" {
			errorsSeen++
			require.Contains(t, ev.Content, "API key")
		}
	}
	require.Equal(t, 1, errorsSeen)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/agent/threads/thread-1/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var messages []*store.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	require.Equal(t, store.MessageTypeError, messages[1].Type)
}

func TestThreadLifecycle(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestService(ctx, t, &queueModel{})

	rec := doJSON(t, e, http.MethodPost, "/api/v1/agent/threads", map[string]any{"userId": "user-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created threadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, defaultThreadTitle, created.Title)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/agent/threads", map[string]any{"id": created.ID})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, e, http.MethodPatch, "/api/v1/agent/threads/"+created.ID, map[string]any{"title": "Q1 review", "bookmarked": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated threadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, "Q1 review", updated.Title)
	require.True(t, updated.Bookmarked)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/agent/threads?userId=user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []threadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Equal(t, created.ID, list[0].ID)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/agent/threads/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessageActionOverlaysFlags(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestService(ctx, t, &queueModel{})

	rec := doJSON(t, e, http.MethodPost, "/api/v1/agent/threads/thread-1/chat", chatBody("Hello"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/agent/threads/thread-1/messages/1/actions", map[string]any{"action": "favorite", "userId": "user-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp messageActionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.IsFavorited)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/agent/threads/thread-1/messages", nil)
	var messages []*store.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	require.True(t, messages[1].IsFavorited)
	require.False(t, messages[0].IsFavorited)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/agent/threads/thread-1/messages/1/actions", map[string]any{"action": "shout"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprovalEndpoints(t *testing.T) {
	ctx := context.Background()
	model := &queueModel{queue: []*llms.ContentResponse{{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:   "call_1",
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      toolkit.ToolCreateDataCards,
				Arguments: `{"title":"Week","cards":[{"title":"Orders","value":"12"}]}`,
			},
		}},
	}}}}}
	e, s := newTestService(ctx, t, model)

	rec := doJSON(t, e, http.MethodPost, "/api/v1/agent/approvals", map[string]any{"toolCallId": "nope", "action": "allow"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, e, http.MethodPost, "/api/v1/agent/approvals", map[string]any{"toolCallId": "call_1", "action": "maybe"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := chatBody("Show weekly orders")
	body["opts"].(map[string]any)["approveAllTools"] = false

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		b, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/threads/thread-1/chat", strings.NewReader(string(b)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		done <- rec
	}()

	require.Eventually(t, func() bool {
		return len(s.Runner.Approvals().Pending("thread-1")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/agent/threads/thread-1/approvals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "call_1")

	rec = doJSON(t, e, http.MethodPost, "/api/v1/agent/approvals", map[string]any{"toolCallId": "call_1", "action": "allow"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	chat := <-done
	events := readEvents(t, chat.Body.String())
	var sawApproval bool
	for _, ev := range events {
		if ev.Type == "approval_required" {
			sawApproval = true
			require.Contains(t, string(ev.Payload), "call_1")
		}
	}
	require.True(t, sawApproval)
	require.Equal(t, "done", events[len(events)-1].Type)
}

func TestChatOffersRequestTools(t *testing.T) {
	ctx := context.Background()
	model := &queueModel{queue: []*llms.ContentResponse{{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:   "call_loyalty",
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      "lookup_loyalty_tier",
				Arguments: `{"email":"ana@example.com"}`,
			},
		}},
	}}}}}
	e, _ := newTestService(ctx, t, model)

	body := chatBody("What tier is ana@example.com?")
	opts := body["opts"].(map[string]any)
	opts["tools"] = []map[string]any{{
		"name":        "lookup_loyalty_tier",
		"description": "Look up a customer's loyalty tier",
		"parameters": map[string]any{
			"type":       "object",
			"properties": map[string]any{"email": map[string]any{"type": "string"}},
			"required":   []string{"email"},
		},
		"result": map[string]any{"tier": "gold"},
	}}
	opts["allowedTools"] = []string{"lookup_loyalty_tier"}

	rec := doJSON(t, e, http.MethodPost, "/api/v1/agent/threads/thread-1/chat", body)
	require.Equal(t, http.StatusOK, rec.Code)
	events := readEvents(t, rec.Body.String())
	require.Equal(t, "done", events[len(events)-1].Type)

	model.mu.Lock()
	offered := model.offered
	model.mu.Unlock()
	require.NotEmpty(t, offered)
	require.Contains(t, offered[0], "lookup_loyalty_tier")
	// The allowlist drops built-in tools but keeps presentation tools.
	require.NotContains(t, offered[0], toolkit.ToolCodeInterpreter)
	require.Contains(t, offered[0], toolkit.ToolCreateDataCards)

	var answered bool
	for _, ev := range events {
		if ev.Type == "message" && strings.Contains(string(ev.Payload), "call_loyalty") && strings.Contains(string(ev.Payload), "gold") {
			answered = true
		}
	}
	require.True(t, answered)
}

func TestChatRejectsInvalidRequestTool(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestService(ctx, t, &queueModel{})

	body := chatBody("hi")
	body["opts"].(map[string]any)["tools"] = []map[string]any{{"name": "bad name!"}}
	rec := doJSON(t, e, http.MethodPost, "/api/v1/agent/threads/thread-1/chat", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

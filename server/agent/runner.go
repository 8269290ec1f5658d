// Package agent drives one conversational turn: model calls, tool calls, approvals
// and persistence of every step through the conversation store.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"

	"github.com/shopmind/shopmind/plugin/llm"
	"github.com/shopmind/shopmind/plugin/vectorstore"
	"github.com/shopmind/shopmind/plugin/woocommerce"
	"github.com/shopmind/shopmind/server/agent/toolkit"
	"github.com/shopmind/shopmind/store"
)

const (
	// DefaultMaxToolRounds bounds the tool-call rounds of one turn.
	DefaultMaxToolRounds = 10

	titleRunes = 60

	limitPrompt = "The tool-call limit for this answer has been reached. Do not call tools. " +
		"Answer now with the information gathered so far and tell the user the analysis was cut short."
)

var (
	// ErrUnknownToolCall is reported to the model when it calls a tool that is not in the set.
	ErrUnknownToolCall = errors.New("unknown tool")
	// ErrModelCall marks a failed model call, which ends the turn.
	ErrModelCall = errors.New("model call failed")
)

// Config is the per-invocation agent configuration. It is never persisted.
type Config struct {
	Provider        string
	Model           string
	APIKey          string
	Temperature     float64
	SystemPrompt    string
	Tools           []string
	ExtraTools      []toolkit.Tool
	ApproveAllTools bool
	Credentials     *woocommerce.Credentials
	UserID          string
}

func (c Config) modelConfig() llm.Config {
	return llm.Config{Provider: c.Provider, Model: c.Model, APIKey: c.APIKey, Temperature: c.Temperature}
}

// embedding returns an embedding function when the caller's key can produce embeddings.
func (c Config) embedding() chromem.EmbeddingFunc {
	if c.APIKey == "" || llm.ParseProvider(c.Provider) != llm.ProviderOpenAI {
		return nil
	}
	return vectorstore.OpenAICompatEmbedding("", c.APIKey, "")
}

// ModelFactory creates the chat model for a turn.
type ModelFactory func(ctx context.Context, cfg llm.Config) (llms.Model, error)

func defaultModelFactory(ctx context.Context, cfg llm.Config) (llms.Model, error) {
	m, err := llm.NewModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// TurnResult summarizes a completed turn.
type TurnResult struct {
	ThreadID     string
	Messages     []*store.Message
	Final        *store.Message
	LimitReached bool
	Rounds       int
}

// Runner executes turns.
type Runner struct {
	store         *store.Store
	conversations *store.AnnotatedConversationStore
	assembler     *toolkit.Assembler
	approvals     *ApprovalGate
	newModel      ModelFactory
	maxRounds     int
	now           func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithModelFactory replaces provider model construction.
func WithModelFactory(f ModelFactory) RunnerOption {
	return func(r *Runner) { r.newModel = f }
}

// WithMaxToolRounds overrides DefaultMaxToolRounds.
func WithMaxToolRounds(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxRounds = n
		}
	}
}

// WithApprovalGate sets the gate used when tools need approval.
func WithApprovalGate(g *ApprovalGate) RunnerOption {
	return func(r *Runner) { r.approvals = g }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner returns a runner persisting through st.
func NewRunner(st *store.Store, assembler *toolkit.Assembler, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:         st,
		conversations: store.NewAnnotatedConversationStore(st, st),
		assembler:     assembler,
		approvals:     NewApprovalGate(5 * time.Minute),
		newModel:      defaultModelFactory,
		maxRounds:     DefaultMaxToolRounds,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Approvals exposes the approval gate.
func (r *Runner) Approvals() *ApprovalGate {
	return r.approvals
}

// Conversations exposes the annotated conversation store.
func (r *Runner) Conversations() *store.AnnotatedConversationStore {
	return r.conversations
}

// turn is the mutable state of one RunTurn call.
type turn struct {
	runner   *Runner
	threadID string
	cfg      Config
	sink     EventSink
	config   store.RunnableConfig
	history  []*store.Message
	added    []*store.Message
	usage    store.TokenUsage
	model    string
	step     int
	rendered map[string]string
}

// RunTurn appends message to the thread and drives the model until it answers
// without tool calls, persisting after every step.
func (r *Runner) RunTurn(ctx context.Context, threadID, message string, cfg Config, sink EventSink) (*TurnResult, error) {
	if threadID == "" {
		return nil, store.ErrMissingThreadID
	}
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("message must not be empty")
	}

	thread, err := r.ensureThread(ctx, threadID, cfg.UserID, message)
	if err != nil {
		return nil, err
	}
	state, err := r.conversations.State(ctx, threadID)
	if err != nil {
		return nil, err
	}

	t := &turn{
		runner:   r,
		threadID: threadID,
		cfg:      cfg,
		sink:     sink,
		config:   state.Config,
		history:  state.Messages,
		usage:    thread.TokenUsage,
		model:    cfg.modelConfig().ModelName(),
		rendered: map[string]string{},
	}
	t.config.UserID = cfg.UserID

	t.resume(state.PendingWrites)
	t.append(&store.Message{ID: uuid.NewString(), Type: store.MessageTypeHuman, Content: message})
	if err := t.persist(ctx, "input"); err != nil {
		return nil, err
	}

	slog.Info("[AGENT INIT]", "thread", threadID, "provider", cfg.Provider, "model", t.model)
	slog.Info("[AGENT PROMPT]", "input", message)

	model, err := r.newModel(ctx, cfg.modelConfig())
	if err != nil {
		return nil, t.fail(ctx, err, err.Error())
	}
	toolset, err := r.assembler.Build(ctx, toolkit.Request{
		Credentials: cfg.Credentials,
		Extra:       cfg.ExtraTools,
		Allow:       cfg.Tools,
		Embedding:   cfg.embedding(),
	})
	if err != nil {
		return nil, t.fail(ctx, err, err.Error())
	}
	defer toolset.Close()

	result, err := t.loop(ctx, model, toolset)
	if err != nil {
		return nil, err
	}
	if err := t.saveUsage(ctx); err != nil {
		slog.Warn("failed to update token usage", "thread", threadID, "err", err)
	}
	sink.emit(Event{Type: EventDone, ThreadID: threadID})
	return result, nil
}

func (r *Runner) ensureThread(ctx context.Context, threadID, userID, firstMessage string) (*store.Thread, error) {
	thread, err := r.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load thread")
	}
	if thread != nil {
		return thread, nil
	}
	return r.store.CreateThread(ctx, &store.Thread{
		ID:     threadID,
		UserID: userID,
		Title:  ThreadTitle(firstMessage),
	})
}

// ThreadTitle is the first 60 runes of the first message.
func ThreadTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(title) <= titleRunes {
		return title
	}
	return string([]rune(title)[:titleRunes])
}

func (t *turn) loop(ctx context.Context, model llms.Model, toolset *toolkit.Toolset) (*TurnResult, error) {
	r := t.runner
	system := SystemPrompt(t.cfg.SystemPrompt, t.cfg.Credentials != nil, r.now())
	defs := toolset.Definitions()
	result := &TurnResult{ThreadID: t.threadID}

	for round := 0; ; round++ {
		messages := toMessageContents(system, t.history)
		opts := []llms.CallOption{}
		forced := round >= r.maxRounds
		if forced {
			result.LimitReached = true
			slog.Warn("[AGENT LIMIT]", "thread", t.threadID, "rounds", round)
			t.sink.emit(Event{Type: EventLimitReached, ThreadID: t.threadID, Content: fmt.Sprintf("tool-call limit of %d rounds reached", r.maxRounds)})
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, limitPrompt))
		} else if len(defs) > 0 {
			opts = append(opts, llms.WithTools(defs))
		}

		resp, err := model.GenerateContent(ctx, messages, opts...)
		if err == nil && (resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil) {
			err = errors.New("empty response from model")
		}
		if err != nil {
			return nil, t.fail(ctx, errors.Wrap(ErrModelCall, err.Error()), "Model call failed: "+err.Error())
		}
		t.addUsage(resp)

		ai, invalid := fromChoice(resp.Choices[0], t.model)
		if forced {
			ai.ToolCalls = nil
		}
		t.append(ai)
		if err := t.persist(ctx, "loop"); err != nil {
			return nil, err
		}
		result.Rounds = round + 1

		if !ai.HasToolCalls() {
			slog.Info("[AGENT FINISH]", "thread", t.threadID, "rounds", result.Rounds)
			for _, word := range strings.Fields(ai.Content) {
				t.sink.emit(Event{Type: EventToken, ThreadID: t.threadID, Content: word + " "})
			}
			result.Final = ai
			result.Messages = t.added
			return result, nil
		}

		for _, call := range ai.ToolCalls {
			content, err := t.execute(ctx, toolset, call, invalid[call.ID])
			if err != nil {
				return nil, err
			}
			toolMsg := &store.Message{
				ID:         uuid.NewString(),
				Type:       store.MessageTypeTool,
				Content:    content,
				ToolCallID: call.ID,
				Name:       call.Name,
			}
			if err := r.conversations.PutWrites(ctx, t.config, []store.PendingWrite{{Channel: store.MessagesChannel, Value: toolMsg}}, call.ID); err != nil {
				return nil, errors.Wrap(err, "failed to record tool result")
			}
			t.append(toolMsg)
		}
		if err := t.persist(ctx, "loop"); err != nil {
			return nil, err
		}
	}
}

// execute runs one tool call and returns its result content. Tool failures are
// returned as {success:false,error} content; only cancellation is an error.
func (t *turn) execute(ctx context.Context, toolset *toolkit.Toolset, call store.ToolCall, argsErr error) (string, error) {
	r := t.runner
	args := call.ArgsJSON()
	slog.Info("[AGENT TOOL CALL]", "tool", call.Name, "input", args)

	tool, ok := toolset.Lookup(call.Name)
	if !ok {
		return toolkit.Failure(errors.Wrapf(ErrUnknownToolCall, "%s is not available", call.Name)), nil
	}
	if argsErr != nil {
		return toolkit.Failure(errors.Wrap(argsErr, "arguments must be a JSON object")), nil
	}

	if !t.cfg.ApproveAllTools {
		callCopy := call
		action, err := r.approvals.Request(ctx, t.threadID, call, func() {
			t.sink.emit(Event{Type: EventApprovalRequired, ThreadID: t.threadID, ToolCall: &callCopy})
		})
		if err != nil {
			return "", errors.Wrap(err, "waiting for tool approval")
		}
		if action != ApprovalAllow {
			slog.Info("[AGENT TOOL DENIED]", "tool", call.Name)
			return toolkit.Failure(errors.Errorf("the user denied the %s tool call", call.Name)), nil
		}
	}

	content, err := tool.Call(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		content = toolkit.Failure(err)
	}

	if toolkit.IsPresentationTool(call.Name) {
		if fp, ok := toolkit.Fingerprint(content); ok {
			if previous, seen := t.rendered[fp]; seen {
				slog.Warn("[AGENT DUPLICATE RENDER]", "tool", call.Name, "first", previous)
				return toolkit.Failure(errors.Errorf(
					"this data was already displayed by %s in this answer. DO NOT call %s again; respond with text insights",
					previous, call.Name)), nil
			}
			t.rendered[fp] = call.Name
		}
	}
	slog.Info("[AGENT TOOL RESULT]", "tool", call.Name, "bytes", len(content))
	return content, nil
}

// resume closes tool calls left unanswered by an interrupted turn, using the
// recorded pending writes where available.
func (t *turn) resume(writes []*store.CheckpointWrite) {
	answered := map[string]bool{}
	var open *store.Message
	for i := len(t.history) - 1; i >= 0; i-- {
		m := t.history[i]
		if m.Type == store.MessageTypeTool {
			answered[m.ToolCallID] = true
			continue
		}
		if m.HasToolCalls() {
			open = m
		}
		break
	}
	if open == nil {
		return
	}

	recorded := map[string]*store.Message{}
	for _, w := range writes {
		if w.Channel != store.MessagesChannel {
			continue
		}
		msg := &store.Message{}
		if err := json.Unmarshal([]byte(w.Value), msg); err != nil {
			slog.Warn("skipping unreadable pending write", "thread", t.threadID, "task", w.TaskID, "err", err)
			continue
		}
		recorded[w.TaskID] = msg
	}

	resumed := 0
	for _, call := range open.ToolCalls {
		if answered[call.ID] {
			continue
		}
		msg, ok := recorded[call.ID]
		if !ok {
			msg = &store.Message{
				ID:      uuid.NewString(),
				Content: toolkit.Failure(errors.New("the tool call was interrupted before it completed")),
			}
		}
		msg.Type = store.MessageTypeTool
		msg.ToolCallID = call.ID
		msg.Name = call.Name
		t.append(msg)
		resumed++
	}
	if resumed > 0 {
		slog.Info("[AGENT RESUME]", "thread", t.threadID, "after", open.ID, "closed_calls", resumed)
	}
}

func (t *turn) append(m *store.Message) {
	m.Index = len(t.history)
	if m.CreatedTs == 0 {
		m.CreatedTs = t.runner.now().Unix()
	}
	t.history = append(t.history, m)
	t.added = append(t.added, m)
	t.sink.emit(Event{Type: EventMessage, ThreadID: t.threadID, Message: m})
}

// persist writes the full history as a new checkpoint. Only is_liked travels with
// the checkpoint; the other flags live in the metadata overlay.
func (t *turn) persist(ctx context.Context, source string) error {
	messages := make([]*store.Message, len(t.history))
	for i, m := range t.history {
		c := *m
		c.MessageFlags = store.MessageFlags{IsLiked: m.IsLiked}
		messages[i] = &c
	}
	checkpoint, err := store.NewCheckpoint(messages)
	if err != nil {
		return err
	}
	t.step++
	// Put returns the advanced config even when only the metadata overlay failed.
	config, err := t.runner.conversations.Put(ctx, t.config, checkpoint, store.CheckpointMetadata{Source: source, Step: t.step}, nil)
	t.config = config
	if err != nil {
		return errors.Wrap(err, "failed to persist checkpoint")
	}
	return nil
}

// fail records an error message in the thread and returns err to the caller.
func (t *turn) fail(ctx context.Context, err error, content string) error {
	slog.Error("[AGENT ERROR]", "thread", t.threadID, "err", err)
	t.append(&store.Message{ID: uuid.NewString(), Type: store.MessageTypeError, Content: content})
	t.sink.emit(Event{Type: EventError, ThreadID: t.threadID, Content: content})
	if perr := t.persist(ctx, "error"); perr != nil {
		slog.Error("failed to persist error message", "thread", t.threadID, "err", perr)
	}
	if uerr := t.saveUsage(ctx); uerr != nil {
		slog.Warn("failed to update token usage", "thread", t.threadID, "err", uerr)
	}
	return err
}

func (t *turn) addUsage(resp *llms.ContentResponse) {
	u := llm.UsageFromResponse(resp)
	if u == (llm.Usage{}) {
		return
	}
	t.usage.Add(t.model, u.PromptTokens, u.CompletionTokens, u.CachedTokens, llm.Cost(t.model, u), t.runner.now())
}

func (t *turn) saveUsage(ctx context.Context) error {
	usage := t.usage
	_, err := t.runner.store.UpdateThread(ctx, &store.UpdateThread{ID: t.threadID, TokenUsage: &usage})
	return err
}

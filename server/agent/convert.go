package agent

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/shopmind/shopmind/store"
)

// toMessageContents converts thread history into provider messages.
// Error messages are shown to the user only and are not sent to the model.
func toMessageContents(system string, history []*store.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history)+1)
	out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, system))
	for _, m := range history {
		switch m.Type {
		case store.MessageTypeHuman:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case store.MessageTypeAI:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" || len(m.ToolCalls) == 0 {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.ArgsJSON(),
					},
				})
			}
			out = append(out, mc)
		case store.MessageTypeTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.Name,
					Content:    m.Content,
				}},
			})
		}
	}
	return out
}

// fromChoice converts a model choice into an ai message. Repeated tool call ids
// are dropped, and calls whose arguments are not a JSON object are reported in invalid.
func fromChoice(choice *llms.ContentChoice, model string) (msg *store.Message, invalid map[string]error) {
	msg = &store.Message{
		ID:      uuid.NewString(),
		Type:    store.MessageTypeAI,
		Content: choice.Content,
		Model:   model,
	}
	invalid = map[string]error{}
	seen := map[string]bool{}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		call := store.ToolCall{ID: id, Name: tc.FunctionCall.Name, Args: map[string]any{}}
		if tc.FunctionCall.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &call.Args); err != nil {
				invalid[id] = err
				call.Args = map[string]any{}
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, call)
	}
	return msg, invalid
}

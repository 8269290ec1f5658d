package store

import (
	"bytes"
	"encoding/json"
	"strings"
)

// normalizeMessage converts one stored message into a plain map. Three shapes are
// recognized:
//   - a plain message object carrying "type", passed through;
//   - a serialized constructor wrapper ({"lc":1,"id":[...,"HumanMessage"],"kwargs":{...}}),
//     reduced to {type, data};
//   - a role-style chat message ({"role":"user",...}), reduced to {type, data}.
func normalizeMessage(raw json.RawMessage) map[string]any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"content": string(raw)}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return map[string]any{"content": v}
	}

	if _, isWrapper := obj["lc"]; isWrapper {
		if kwargs, ok := obj["kwargs"].(map[string]any); ok {
			typ := string(MessageTypeAI)
			if ids, ok := obj["id"].([]any); ok && len(ids) > 0 {
				if name, _ := ids[len(ids)-1].(string); strings.Contains(strings.ToLower(name), "human") {
					typ = string(MessageTypeHuman)
				}
			}
			return map[string]any{"type": typ, "data": kwargs}
		}
	}

	if _, hasType := obj["type"]; !hasType {
		if role, ok := obj["role"].(string); ok {
			typ := string(MessageTypeAI)
			switch strings.ToLower(role) {
			case "user", "human":
				typ = string(MessageTypeHuman)
			}
			return map[string]any{"type": typ, "data": obj}
		}
	}
	return obj
}

// messageFields returns the map holding a normalized message's own fields.
func messageFields(m map[string]any) map[string]any {
	if data, ok := m["data"].(map[string]any); ok {
		return data
	}
	return m
}

func messageIDOf(m map[string]any) string {
	id, _ := messageFields(m)["id"].(string)
	return id
}

func isLikedOf(m map[string]any) bool {
	liked, _ := messageFields(m)["is_liked"].(bool)
	return liked
}

// messageKey identifies a message for append-only comparison.
func messageKey(raw json.RawMessage) string {
	if id := messageIDOf(normalizeMessage(raw)); id != "" {
		return id
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// flagsMap renders metadata flags for the read-time overlay.
func flagsMap(row *MessageMetadata) map[string]any {
	m := map[string]any{
		"is_liked":      row.IsLiked,
		"is_disliked":   row.IsDisliked,
		"is_favorited":  row.IsFavorited,
		"is_bookmarked": row.IsBookmarked,
		"is_flagged":    row.IsFlagged,
		"is_archived":   row.IsArchived,
	}
	if row.MessageID != nil {
		m["message_id"] = *row.MessageID
	}
	if row.UserID != "" {
		m["user_id"] = row.UserID
	}
	return m
}

// DecodeMessages converts enriched message maps into typed messages. Index is the
// position in the list.
func DecodeMessages(enriched []map[string]any) ([]*Message, error) {
	list := make([]*Message, 0, len(enriched))
	for idx, m := range enriched {
		flat := map[string]any{}
		for k, v := range messageFields(m) {
			flat[k] = v
		}
		for k, v := range m {
			if k == "data" {
				continue
			}
			flat[k] = v
		}
		if _, ok := flat["content"].(string); !ok && flat["content"] != nil {
			b, err := json.Marshal(flat["content"])
			if err != nil {
				return nil, err
			}
			flat["content"] = string(b)
		}
		b, err := json.Marshal(flat)
		if err != nil {
			return nil, err
		}
		msg := &Message{}
		if err := json.Unmarshal(b, msg); err != nil {
			return nil, err
		}
		if msg.Type == "" {
			msg.Type = MessageTypeAI
		}
		msg.Index = idx
		list = append(list, msg)
	}
	return list, nil
}

package llm

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// unmarshalJSON unmarshals data into v. On a syntax error the payload is
// repaired with jsonrepair and decoded again.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

// decodeObject extracts a JSON object from model output. Code fences some
// models wrap around JSON are removed first. It returns nil when no object
// can be recovered.
func decodeObject(text string) map[string]any {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	var m map[string]any
	if err := unmarshalJSON([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

// normalizeJSON converts a tool result into a JSON object, wrapping
// non-object values under "result".
func normalizeJSON(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var m map[string]any
	if json.Unmarshal(b, &m) == nil && m != nil {
		return m
	}
	var anyv any
	_ = json.Unmarshal(b, &anyv)
	return map[string]any{"result": anyv}
}

// toolPayload is what the model sees for a tool result.
func toolPayload(r StreamToolResult) map[string]any {
	if r.Err != nil {
		return map[string]any{"error": r.Err.Error()}
	}
	return normalizeJSON(r.Result)
}

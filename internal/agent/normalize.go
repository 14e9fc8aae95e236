package agent

import (
	"encoding/json"
	"strconv"
	"strings"

	"coachline/internal/webhook"
)

// Canned replies for degraded agent responses. Normalization never
// fails the turn; the caller always gets something to show.
const (
	noResponseText   = "The agent returned no response."
	parseFailureText = "Could not process the agent response."
)

// Reply is the uniform shape every agent response is reduced to. Text
// is always populated. Data, when present, is a non-empty object;
// arrays and empty objects count as absent.
type Reply struct {
	Text string
	Data map[string]any
}

// Normalize reduces a raw agent response to a Reply. Agents disagree
// on encoding: some return a JSON object, some a JSON string holding
// JSON, some ad hoc "key: value" text. All of it lands here.
func Normalize(res *webhook.Response) Reply {
	if res == nil {
		return Reply{Text: noResponseText}
	}
	body := strings.TrimSpace(string(res.Body))
	if !isJSONContentType(res.ContentType) {
		if body != "" {
			return Reply{Text: body}
		}
		return Reply{Text: noResponseText}
	}

	var parsed any = map[string]any{}
	if body != "" {
		if err := json.Unmarshal([]byte(body), &parsed); err != nil {
			return Reply{Text: parseFailureText}
		}
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		if s, isStr := parsed.(string); isStr && strings.TrimSpace(s) != "" {
			return Reply{Text: strings.TrimSpace(s)}
		}
		return Reply{Text: noResponseText}
	}

	reply := Reply{}
	if text, isStr := obj["response"].(string); isStr {
		reply.Text = strings.TrimSpace(text)
	}
	candidate, found := obj["datos"]
	if !found {
		candidate, found = obj["data"]
	}
	if found {
		reply.Data = coerceStructured(candidate)
	}
	if reply.Text == "" && reply.Data != nil {
		reply.Text = "Got it. Here is what I have recorded so far:\n\n" + prettyJSON(reply.Data)
	}
	if reply.Text == "" {
		reply.Text = noResponseText
	}
	return reply
}

// coerceStructured turns a candidate payload into a usable object, or
// nil. Strings are retried as JSON, then as "key: value" text.
func coerceStructured(candidate any) map[string]any {
	switch v := candidate.(type) {
	case map[string]any:
		if len(v) == 0 {
			return nil
		}
		return v
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			if obj, ok := parsed.(map[string]any); ok && len(obj) > 0 {
				return obj
			}
			return nil
		}
		if obj := ParseKeyValueText(trimmed); len(obj) > 0 {
			return obj
		}
		return nil
	default:
		return nil
	}
}

// ParseKeyValueText parses line-oriented "key: value" text into an
// object. It is intentionally permissive: malformed lines are skipped
// and the result may be partial, but it never fails.
func ParseKeyValueText(text string) map[string]any {
	result := map[string]any{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		if key == "" {
			continue
		}
		result[key] = coerceValue(strings.TrimSpace(line[idx+1:]))
	}
	return result
}

// coerceValue maps unambiguous literals to typed values and leaves
// everything else as the trimmed string.
func coerceValue(raw string) any {
	if strings.HasPrefix(raw, "[") || strings.HasPrefix(raw, "{") {
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			return parsed
		}
		return raw
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}

func isJSONContentType(contentType string) bool {
	mediaType := strings.TrimSpace(strings.ToLower(contentType))
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func prettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

package collab

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrIncomplete is returned when the model answers without the required fields.
var ErrIncomplete = errors.New("collaborator returned an incomplete answer")

type createPayload struct {
	Success      bool   `json:"success"`
	TemplateName string `json:"template_name"`
	Prompt       string `json:"prompt"`
}

type refinePayload struct {
	Success   bool   `json:"success"`
	NewPrompt string `json:"new_prompt"`
}

type optimizePayload struct {
	Success         bool   `json:"success"`
	OptimizedPrompt string `json:"optimized_prompt"`
}

// parsePayload decodes the JSON object in a model reply, tolerating code
// fences and chatter around it.
func parsePayload[T any](raw string) (T, error) {
	var out T
	frag := jsonFragment(raw)
	if frag == "" {
		return out, errors.New("no JSON object in reply")
	}
	if err := json.Unmarshal([]byte(frag), &out); err != nil {
		return out, err
	}
	return out, nil
}

func jsonFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

func decodeCreate(raw string) (string, string, error) {
	p, err := parsePayload[createPayload](raw)
	if err != nil {
		return "", "", err
	}
	name, body := strings.TrimSpace(p.TemplateName), strings.TrimSpace(p.Prompt)
	if !p.Success || name == "" || body == "" {
		return "", "", ErrIncomplete
	}
	return name, body, nil
}

func decodeRefine(raw string) (string, error) {
	p, err := parsePayload[refinePayload](raw)
	if err != nil {
		return "", err
	}
	if body := strings.TrimSpace(p.NewPrompt); p.Success && body != "" {
		return body, nil
	}
	return "", ErrIncomplete
}

func decodeOptimize(raw string) (string, error) {
	p, err := parsePayload[optimizePayload](raw)
	if err != nil {
		return "", err
	}
	if body := strings.TrimSpace(p.OptimizedPrompt); p.Success && body != "" {
		return body, nil
	}
	return "", ErrIncomplete
}

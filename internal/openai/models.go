package openai

import (
	"encoding/json"
	"errors"
)

// ModelsResponse represents the response from the /models endpoint.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Model represents a single model in the OpenAI API format.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Object  string `json:"object,omitempty"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ErrUnexpectedModelsFormat is returned when a /models body is neither {data:[...]} nor [...].
var ErrUnexpectedModelsFormat = errors.New("openai: unexpected models response format")

// DecodeModels accepts the canonical {"data":[...]} envelope as well as the bare
// array some OpenAI-compatible servers return.
func DecodeModels(body []byte) ([]Model, error) {
	var envelope struct {
		Data []Model `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil {
		return normalizeModels(envelope.Data), nil
	}
	var list []Model
	if err := json.Unmarshal(body, &list); err == nil {
		return normalizeModels(list), nil
	}
	return nil, ErrUnexpectedModelsFormat
}

func normalizeModels(models []Model) []Model {
	out := make([]Model, 0, len(models))
	for _, m := range models {
		if m.ID == "" {
			m.ID = m.Name
		}
		if m.ID == "" {
			continue
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		out = append(out, m)
	}
	return out
}

package llm

import (
	"encoding/json"
	"fmt"
)

// Classification is the minimal schema every provider response must satisfy:
// non-empty string category and reasoning, optional numeric confidence.
type Classification struct {
	Category   string
	Reasoning  string
	Confidence *float64
	Raw        map[string]any
}

// DecodeClassification decodes a JSON document from a model response and
// enforces the minimal schema. The returned error is not yet typed; callers
// wrap it into a parse error with their correlation id and model name.
func DecodeClassification(data []byte) (*Classification, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	return classificationFromMap(payload)
}

func classificationFromMap(payload map[string]any) (*Classification, error) {
	category, ok := payload["category"].(string)
	if !ok || category == "" {
		return nil, fmt.Errorf("missing or non-string category in %v", payload)
	}
	reasoning, ok := payload["reasoning"].(string)
	if !ok || reasoning == "" {
		return nil, fmt.Errorf("missing or non-string reasoning in %v", payload)
	}

	cls := &Classification{
		Category:  category,
		Reasoning: reasoning,
		Raw:       payload,
	}
	if conf, ok := payload["confidence"].(float64); ok {
		cls.Confidence = &conf
	}
	return cls, nil
}

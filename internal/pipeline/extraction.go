package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"doccal/internal/models"
)

// ParseExtraction decodes the extraction service output: a JSON object
// whose "events" field lists candidate events. Anything else fails the
// whole document with models.ErrMalformedExtraction.
//
// Individual entries are decoded leniently. A field that is missing or
// not a string is read as empty, leaving the per-event verdict to the
// validator.
func ParseExtraction(raw string) ([]models.CandidateEvent, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: empty output", models.ErrMalformedExtraction)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedExtraction, err)
	}

	rawEvents, ok := doc["events"]
	if !ok {
		return nil, fmt.Errorf("%w: missing \"events\" field", models.ErrMalformedExtraction)
	}
	var entries []json.RawMessage
	if bytes.Equal(bytes.TrimSpace(rawEvents), []byte("null")) {
		return nil, fmt.Errorf("%w: \"events\" is null", models.ErrMalformedExtraction)
	}
	if err := json.Unmarshal(rawEvents, &entries); err != nil {
		return nil, fmt.Errorf("%w: \"events\" is not a list: %v", models.ErrMalformedExtraction, err)
	}

	candidates := make([]models.CandidateEvent, 0, len(entries))
	for _, entry := range entries {
		var fields map[string]any
		// A non-object entry becomes an empty candidate.
		_ = json.Unmarshal(entry, &fields)
		candidates = append(candidates, models.CandidateEvent{
			Title:       stringField(fields, "title"),
			Description: stringField(fields, "description"),
			Date:        stringField(fields, "date"),
		})
	}
	return candidates, nil
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

// stripCodeFence removes a markdown code fence (```json ... ```) that
// language model services often wrap around JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	// Drop the language tag, which may share the line with the body.
	if i := strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '{' || r == '['
	}); i > 0 {
		s = s[i:]
	}
	return strings.TrimSpace(s)
}

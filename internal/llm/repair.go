package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ExtractJSON returns the first JSON object or array embedded in text.
// Model output often wraps JSON in prose or markdown fences; a payload cut
// off mid-object is returned as-is so repair can close it.
func ExtractJSON(text string) (string, error) {
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	start := objStart
	end := strings.LastIndex(text, "}")
	if objStart == -1 || (arrStart != -1 && arrStart < objStart) {
		start = arrStart
		end = strings.LastIndex(text, "]")
	}

	if start == -1 {
		return "", fmt.Errorf("no JSON found in response")
	}
	if end <= start {
		// Truncated output; hand the tail to repair.
		return text[start:], nil
	}
	return text[start : end+1], nil
}

// UnmarshalLenient parses model-produced JSON into target. Clean JSON parses
// directly; anything else goes through jsonrepair first, which fixes trailing
// commas, unquoted keys, fenced output, and truncation.
func UnmarshalLenient(text string, target any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}

	if json.Unmarshal([]byte(raw), target) == nil {
		return nil
	}

	fixed, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return fmt.Errorf("repair JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(fixed), target); err != nil {
		return fmt.Errorf("parse repaired JSON: %w", err)
	}
	return nil
}

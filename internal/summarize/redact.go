// Package summarize turns raw tool I/O into short natural-language summaries,
// strips secrets before anything touches the catalog, and derives the
// analytics projections stored alongside each activity.
package summarize

import (
	"encoding/json"
	"regexp"
)

// Redacted replaces the value of every sensitive key.
const Redacted = "[REDACTED]"

// sensitiveKey matches key names whose values must never be persisted.
// Substring match, case-insensitive, so "X-Api-Key" and "DB_PASSWORD" both
// trip it. "authorization" covers bearer-token headers.
var sensitiveKey = regexp.MustCompile(`(?i)(api[_-]?key|apikey|password|passwd|pwd|secret|token|credential|auth[_-]?token|access[_-]?token|private[_-]?key|ssh[_-]?key|authorization)`)

// Redact walks a JSON document and replaces the value of every sensitive key
// with the literal [REDACTED], recursively. Non-JSON input passes through
// unchanged. Redaction is idempotent: an already-redacted document is a
// fixed point.
func Redact(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		// Opaque text, not a structured input. Nothing to traverse.
		return raw, nil
	}

	out, err := json.Marshal(redactValue(doc))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func redactValue(v interface{}) interface{} {
	switch node := v.(type) {
	case map[string]interface{}:
		for key, val := range node {
			if sensitiveKey.MatchString(key) {
				node[key] = Redacted
				continue
			}
			node[key] = redactValue(val)
		}
		return node
	case []interface{}:
		for i, val := range node {
			node[i] = redactValue(val)
		}
		return node
	default:
		return v
	}
}

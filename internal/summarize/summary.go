package summarize

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Verb table for the tools the host assistant commonly emits. Unknown tools
// fall back to a generic verb so summaries stay rule-based and deterministic.
var toolVerbs = map[string]string{
	"Read":         "Read",
	"Write":        "Wrote",
	"Edit":         "Edited",
	"MultiEdit":    "Edited",
	"NotebookEdit": "Edited",
	"Bash":         "Ran",
	"Grep":         "Searched",
	"Glob":         "Matched",
	"WebFetch":     "Fetched",
	"HttpGet":      "Fetched",
	"WebSearch":    "Searched",
	"Task":         "Delegated",
	"TodoWrite":    "Updated",
	"SlashCommand": "Invoked",
	"Skill":        "Applied",
}

// Brief produces the 1-12 word summary: "<verb> <object>".
func Brief(toolName, toolInput string) string {
	if toolName == "" {
		return "Turn ended"
	}
	verb := verbFor(toolName)
	object := principalArgument(toolName, toolInput)
	if object == "" {
		return clampWords(verb+" "+humanizeTool(toolName), 1, 12, nil)
	}
	return clampWords(verb+" "+object, 1, 12, nil)
}

// Detail produces the 12-20 word summary: brief plus outcome and the
// principal argument path.
func Detail(toolName, toolInput string, success bool, errMsg string) string {
	verb := verbFor(toolName)
	object := principalArgument(toolName, toolInput)
	if object == "" {
		object = humanizeTool(toolName)
	}

	outcome := "and the call succeeded"
	if !success {
		outcome = "and the call failed with " + shortError(errMsg)
	}

	s := fmt.Sprintf("%s %s using the %s tool %s", verb, object, humanizeTool(toolName), outcome)
	return clampWords(s, 12, 20, []string{"with", "no", "further", "arguments", "recorded", "for", "this", "call"})
}

func verbFor(toolName string) string {
	if v, ok := toolVerbs[toolName]; ok {
		return v
	}
	// MCP tools arrive as mcp__server__tool; summarize the trailing segment.
	if strings.HasPrefix(toolName, "mcp__") {
		return "Called"
	}
	return "Invoked"
}

func humanizeTool(toolName string) string {
	if toolName == "" {
		return "unknown"
	}
	if strings.HasPrefix(toolName, "mcp__") {
		parts := strings.Split(toolName, "__")
		return parts[len(parts)-1]
	}
	return toolName
}

// principalArgument picks the canonical path or argument from the tool input.
func principalArgument(toolName, toolInput string) string {
	if toolInput == "" {
		return ""
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(toolInput), &doc); err != nil {
		return ""
	}

	for _, key := range []string{"file_path", "path", "notebook_path", "url", "command", "query", "pattern", "description", "skill"} {
		val, ok := doc[key].(string)
		if !ok || val == "" {
			continue
		}
		if key == "command" {
			// The command verb alone; arguments are noise at summary scale.
			fields := strings.Fields(val)
			if len(fields) > 0 {
				return fields[0]
			}
			continue
		}
		return val
	}
	return ""
}

// shortError keeps failure summaries readable: first line, few words.
func shortError(errMsg string) string {
	if errMsg == "" {
		return "an unknown error"
	}
	if idx := strings.IndexByte(errMsg, '\n'); idx >= 0 {
		errMsg = errMsg[:idx]
	}
	fields := strings.Fields(errMsg)
	if len(fields) > 6 {
		fields = fields[:6]
	}
	return strings.Join(fields, " ")
}

// clampWords bounds a summary to [min, max] words, padding from pad when the
// sentence runs short. Deterministic by construction.
func clampWords(s string, min, max int, pad []string) string {
	words := strings.Fields(s)
	if len(words) > max {
		words = words[:max]
	}
	for i := 0; len(words) < min; i++ {
		if i >= len(pad) {
			break
		}
		words = append(words, pad[i])
	}
	return strings.Join(words, " ")
}

package summarize

import (
	"encoding/json"
	"strings"

	"omnicortex/internal/types"
)

// Projections are the analytics columns derived from a tool call at ingest
// time so the dashboard can aggregate without re-parsing inputs.
type Projections struct {
	CommandName  string
	CommandScope types.CommandScope
	MCPServer    string
	SkillName    string
}

// Project derives the analytics projections from a tool name and its
// (already redacted) input.
func Project(toolName, toolInput string) Projections {
	var p Projections

	if strings.HasPrefix(toolName, "mcp__") {
		// mcp__<server>__<tool>
		parts := strings.Split(toolName, "__")
		if len(parts) >= 2 {
			p.MCPServer = parts[1]
		}
	}

	var doc map[string]interface{}
	if toolInput != "" {
		_ = json.Unmarshal([]byte(toolInput), &doc)
	}

	switch toolName {
	case "Bash":
		if cmd, ok := doc["command"].(string); ok {
			fields := strings.Fields(cmd)
			if len(fields) > 0 {
				p.CommandName = fields[0]
				p.CommandScope = types.ScopeUniversal
			}
		}
	case "SlashCommand":
		if cmd, ok := doc["command"].(string); ok {
			fields := strings.Fields(cmd)
			if len(fields) > 0 {
				p.CommandName = strings.TrimPrefix(fields[0], "/")
				// Project-local commands are indistinguishable from
				// user-level ones here; the hook does not say where
				// the command resolved.
				p.CommandScope = types.ScopeUnknown
			}
		}
	case "Skill":
		if skill, ok := doc["skill"].(string); ok {
			p.SkillName = skill
		} else if cmd, ok := doc["command"].(string); ok {
			p.SkillName = cmd
		}
	}

	return p
}

// Package types provides shared type definitions used across Omni-Cortex packages.
// This package exists to break import cycles between the catalog, store, search,
// and rpc layers. Types here are foundational data structures with no dependencies
// beyond the standard library.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// TIMESTAMPS
// =============================================================================

// TimeFormat is the canonical timestamp encoding: UTC, ISO-8601, second precision.
const TimeFormat = time.RFC3339

// FormatTime renders a timestamp in the canonical catalog encoding.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimeFormat)
}

// ParseTime parses a canonical catalog timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeFormat, s)
}

// =============================================================================
// MEMORY
// =============================================================================

// MemoryType classifies what kind of knowledge a memory holds.
type MemoryType string

const (
	TypeDecision     MemoryType = "decision"
	TypeSolution     MemoryType = "solution"
	TypeInsight      MemoryType = "insight"
	TypeError        MemoryType = "error"
	TypeContext      MemoryType = "context"
	TypePreference   MemoryType = "preference"
	TypeTodo         MemoryType = "todo"
	TypeReference    MemoryType = "reference"
	TypeWorkflow     MemoryType = "workflow"
	TypeAPI          MemoryType = "api"
	TypeConversation MemoryType = "conversation"
	TypeOther        MemoryType = "other"
)

// memoryTypes is the closed set of valid memory types.
var memoryTypes = map[MemoryType]bool{
	TypeDecision: true, TypeSolution: true, TypeInsight: true, TypeError: true,
	TypeContext: true, TypePreference: true, TypeTodo: true, TypeReference: true,
	TypeWorkflow: true, TypeAPI: true, TypeConversation: true, TypeOther: true,
}

// Valid reports whether the memory type is one of the known values.
func (t MemoryType) Valid() bool { return memoryTypes[t] }

// MemoryStatus tracks the lifecycle state of a memory.
type MemoryStatus string

const (
	StatusFresh       MemoryStatus = "fresh"
	StatusNeedsReview MemoryStatus = "needs_review"
	StatusOutdated    MemoryStatus = "outdated"
	StatusArchived    MemoryStatus = "archived"
)

var memoryStatuses = map[MemoryStatus]bool{
	StatusFresh: true, StatusNeedsReview: true, StatusOutdated: true, StatusArchived: true,
}

// Valid reports whether the status is one of the known values.
func (s MemoryStatus) Valid() bool { return memoryStatuses[s] }

// DefaultImportance is used when the caller does not supply an importance score.
const DefaultImportance = 50

// Memory is a durable unit of knowledge.
type Memory struct {
	ID              string       `json:"id"`
	Content         string       `json:"content"`
	Context         string       `json:"context,omitempty"`
	Type            MemoryType   `json:"memory_type"`
	Status          MemoryStatus `json:"status"`
	ImportanceScore int          `json:"importance_score"`
	AccessCount     int          `json:"access_count"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	LastAccessed    *time.Time   `json:"last_accessed,omitempty"`
	Tags            []string     `json:"tags,omitempty"`
	Embedding       []float32    `json:"embedding,omitempty"`

	// Extra is caller metadata persisted verbatim; the core never interprets it.
	Extra map[string]string `json:"extra,omitempty"`
}

// NormalizeTags lowercases nothing but trims and collapses duplicates,
// preserving first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// =============================================================================
// ACTIVITY
// =============================================================================

// EventType identifies the hook event that produced an activity.
type EventType string

const (
	EventPreToolUse   EventType = "pre_tool_use"
	EventPostToolUse  EventType = "post_tool_use"
	EventStop         EventType = "stop"
	EventSubagentStop EventType = "subagent_stop"
)

var eventTypes = map[EventType]bool{
	EventPreToolUse: true, EventPostToolUse: true, EventStop: true, EventSubagentStop: true,
}

// Valid reports whether the event type is one of the known values.
func (e EventType) Valid() bool { return eventTypes[e] }

// CommandScope classifies a shell command observed in an activity.
type CommandScope string

const (
	ScopeUniversal CommandScope = "universal"
	ScopeProject   CommandScope = "project"
	ScopeUnknown   CommandScope = "unknown"
)

// Activity is an observation of a single tool call made by the host assistant.
type Activity struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id,omitempty"`
	EventType    EventType `json:"event_type"`
	ToolName     string    `json:"tool_name,omitempty"`
	ToolInput    string    `json:"tool_input,omitempty"`
	ToolOutput   string    `json:"tool_output,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   *int64    `json:"duration_ms,omitempty"`
	FilePath     string    `json:"file_path,omitempty"`
	Timestamp    time.Time `json:"timestamp"`

	// Analytics projections derived at ingest time.
	CommandName  string       `json:"command_name,omitempty"`
	CommandScope CommandScope `json:"command_scope,omitempty"`
	MCPServer    string       `json:"mcp_server,omitempty"`
	SkillName    string       `json:"skill_name,omitempty"`

	Summary       string `json:"summary,omitempty"`
	SummaryDetail string `json:"summary_detail,omitempty"`
}

// =============================================================================
// SESSION
// =============================================================================

// Session is a contiguous stretch of assistant activity.
type Session struct {
	ID            string     `json:"id"`
	ProjectPath   string     `json:"project_path"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	ActivityCount int        `json:"activity_count"`
}

// Open reports whether the session is still current.
func (s *Session) Open() bool { return s.EndedAt == nil }

// =============================================================================
// LINK
// =============================================================================

// LinkKind names the relationship between two memories.
type LinkKind string

const (
	LinkRelatesTo   LinkKind = "relates_to"
	LinkSupersedes  LinkKind = "supersedes"
	LinkContradicts LinkKind = "contradicts"
	LinkDependsOn   LinkKind = "depends_on"
	LinkCausedBy    LinkKind = "caused_by"
	LinkOther       LinkKind = "other"
)

var linkKinds = map[LinkKind]bool{
	LinkRelatesTo: true, LinkSupersedes: true, LinkContradicts: true,
	LinkDependsOn: true, LinkCausedBy: true, LinkOther: true,
}

// Valid reports whether the link kind is one of the known values.
func (k LinkKind) Valid() bool { return linkKinds[k] }

// Link is a directed, typed edge between two memories. Cycles are permitted.
type Link struct {
	FromID string   `json:"from_id"`
	ToID   string   `json:"to_id"`
	Kind   LinkKind `json:"kind"`
}

// TagCount pairs a tag with the number of non-archived memories carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// =============================================================================
// USER MESSAGE
// =============================================================================

// Tone labels detected in a captured user message.
const (
	ToneUrgent      = "urgent"
	TonePolite      = "polite"
	ToneDirect      = "direct"
	ToneInquisitive = "inquisitive"
	ToneTechnical   = "technical"
	ToneCasual      = "casual"
)

// UserMessage is a captured human utterance, used by the style-analysis adapter.
type UserMessage struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id,omitempty"`
	Content        string    `json:"content"`
	WordCount      int       `json:"word_count"`
	CharCount      int       `json:"char_count"`
	LineCount      int       `json:"line_count"`
	HasCodeBlocks  bool      `json:"has_code_blocks"`
	HasQuestions   bool      `json:"has_questions"`
	HasCommands    bool      `json:"has_commands"`
	ToneIndicators []string  `json:"tone_indicators,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

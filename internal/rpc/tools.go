package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"omnicortex/internal/cortex"
	"omnicortex/internal/search"
	"omnicortex/internal/store"
	"omnicortex/internal/types"
)

// toolFunc executes one validated tool call against a bound project.
type toolFunc func(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error)

// tools is the explicit dispatch table: every tool name maps to its typed
// handler. Built once, no reflection.
var tools = map[string]toolFunc{
	"cortex_remember":            toolRemember,
	"cortex_recall":              toolRecall,
	"cortex_list_memories":       toolListMemories,
	"cortex_update_memory":       toolUpdateMemory,
	"cortex_forget":              toolForget,
	"cortex_link_memories":       toolLinkMemories,
	"cortex_list_tags":           toolListTags,
	"cortex_review_memories":     toolReviewMemories,
	"cortex_export":              toolExport,
	"cortex_log_activity":        toolLogActivity,
	"cortex_get_activities":      toolGetActivities,
	"cortex_get_timeline":        toolGetTimeline,
	"cortex_start_session":       toolStartSession,
	"cortex_end_session":         toolEndSession,
	"cortex_get_session_context": toolGetSessionContext,
}

// =============================================================================
// SHARED INPUT FRAGMENTS
// =============================================================================

// filterInput is the wire form of the memory filter shared by recall and
// list operations.
type filterInput struct {
	MemoryTypes    []string `json:"memory_type"`
	Statuses       []string `json:"status"`
	Tags           []string `json:"tags"`
	MinImportance  *int     `json:"min_importance"`
	MaxImportance  *int     `json:"max_importance"`
	AccessedAfter  string   `json:"accessed_after"`
	AccessedBefore string   `json:"accessed_before"`
}

func (f *filterInput) toFilter() (store.Filter, error) {
	var out store.Filter
	for _, t := range f.MemoryTypes {
		out.Types = append(out.Types, types.MemoryType(t))
	}
	for _, st := range f.Statuses {
		out.Statuses = append(out.Statuses, types.MemoryStatus(st))
	}
	out.Tags = f.Tags
	out.MinImportance = f.MinImportance
	out.MaxImportance = f.MaxImportance

	if f.AccessedAfter != "" {
		t, err := types.ParseTime(f.AccessedAfter)
		if err != nil {
			return out, types.Invalidf("filters.accessed_after", "bad timestamp: %v", err)
		}
		out.AccessedAfter = &t
	}
	if f.AccessedBefore != "" {
		t, err := types.ParseTime(f.AccessedBefore)
		if err != nil {
			return out, types.Invalidf("filters.accessed_before", "bad timestamp: %v", err)
		}
		out.AccessedBefore = &t
	}
	return out, out.Validate()
}

// =============================================================================
// MEMORY TOOLS
// =============================================================================

type rememberInput struct {
	Content    string            `json:"content"`
	Type       string            `json:"type"`
	Context    string            `json:"context"`
	Tags       []string          `json:"tags"`
	Importance *int              `json:"importance"`
	RelatedIDs []string          `json:"related_ids"`
	Extra      map[string]string `json:"extra"`
}

func (in *rememberInput) Validate() error {
	if strings.TrimSpace(in.Content) == "" {
		return types.Invalidf("content", "required")
	}
	return nil
}

func toolRemember(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in rememberInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	mem, err := p.Remember(ctx, store.CreateMemoryParams{
		Content:    in.Content,
		Type:       types.MemoryType(in.Type),
		Context:    in.Context,
		Tags:       in.Tags,
		Importance: in.Importance,
		RelatedIDs: in.RelatedIDs,
		Extra:      in.Extra,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": mem.ID}, nil
}

type recallInput struct {
	Query   string      `json:"query"`
	Mode    string      `json:"mode"`
	Filters filterInput `json:"filters"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}

func (in *recallInput) Validate() error {
	if strings.TrimSpace(in.Query) == "" {
		return types.Invalidf("query", "required")
	}
	return nil
}

func toolRecall(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in recallInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	filter, err := in.Filters.toFilter()
	if err != nil {
		return nil, err
	}
	return p.Recall(ctx, in.Query, search.Options{
		Mode:   search.Mode(in.Mode),
		Filter: filter,
		Limit:  in.Limit,
		Offset: in.Offset,
	})
}

type listMemoriesInput struct {
	Filters   filterInput `json:"filters"`
	SortBy    string      `json:"sort_by"`
	SortOrder string      `json:"sort_order"`
	Limit     int         `json:"limit"`
	Offset    int         `json:"offset"`
}

func (in *listMemoriesInput) Validate() error { return nil }

func toolListMemories(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in listMemoriesInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	filter, err := in.Filters.toFilter()
	if err != nil {
		return nil, err
	}
	mems, err := p.ListMemories(ctx, store.ListOptions{
		Filter:    filter,
		SortBy:    in.SortBy,
		SortOrder: in.SortOrder,
		Limit:     in.Limit,
		Offset:    in.Offset,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"memories": emptyNotNullMemories(mems)}, nil
}

type memoryPatchInput struct {
	Content    *string           `json:"content"`
	Context    *string           `json:"context"`
	Type       *string           `json:"type"`
	Status     *string           `json:"status"`
	Importance *int              `json:"importance"`
	Tags       []string          `json:"tags"`
	Extra      map[string]string `json:"extra"`
}

type updateMemoryInput struct {
	ID    string          `json:"id"`
	Patch json.RawMessage `json:"patch"`
}

func (in *updateMemoryInput) Validate() error {
	if in.ID == "" {
		return types.Invalidf("id", "required")
	}
	return nil
}

func toolUpdateMemory(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in updateMemoryInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}

	var raw memoryPatchInput
	tagsSet := false
	if len(in.Patch) > 0 {
		if err := json.Unmarshal(in.Patch, &raw); err != nil {
			return nil, types.Invalidf("patch", "malformed patch: %v", err)
		}
		// A tags key present in the patch replaces the tag set, even when
		// empty; an absent key leaves tags alone.
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(in.Patch, &probe); err == nil {
			_, tagsSet = probe["tags"]
		}
	}

	patch := store.MemoryPatch{
		Content:    raw.Content,
		Context:    raw.Context,
		Importance: raw.Importance,
		Tags:       raw.Tags,
		TagsSet:    tagsSet,
		Extra:      raw.Extra,
	}
	if raw.Type != nil {
		t := types.MemoryType(*raw.Type)
		patch.Type = &t
	}
	if raw.Status != nil {
		st := types.MemoryStatus(*raw.Status)
		patch.Status = &st
	}
	return p.UpdateMemory(ctx, in.ID, patch)
}

type idInput struct {
	ID string `json:"id"`
}

func (in *idInput) Validate() error {
	if in.ID == "" {
		return types.Invalidf("id", "required")
	}
	return nil
}

func toolForget(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in idInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	removed, err := p.Forget(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	return map[string]int{"removed": removed}, nil
}

type linkInput struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

func (in *linkInput) Validate() error {
	if in.From == "" {
		return types.Invalidf("from", "required")
	}
	if in.To == "" {
		return types.Invalidf("to", "required")
	}
	return nil
}

func toolLinkMemories(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in linkInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	linked, err := p.LinkMemories(ctx, in.From, in.To, types.LinkKind(in.Kind))
	if err != nil {
		return nil, err
	}
	return map[string]bool{"linked": linked}, nil
}

type emptyInput struct{}

func (in *emptyInput) Validate() error { return nil }

func toolListTags(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in emptyInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	tags, err := p.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []types.TagCount{}
	}
	return map[string]interface{}{"tags": tags}, nil
}

func toolReviewMemories(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in emptyInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	items, err := p.ReviewMemories(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []search.ReviewItem{}
	}
	return map[string]interface{}{"items": items}, nil
}

type exportInput struct {
	Format string `json:"format"`
}

func (in *exportInput) Validate() error {
	if in.Format != "json" && in.Format != "jsonl" {
		return types.Invalidf("format", "must be json or jsonl")
	}
	return nil
}

func toolExport(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in exportInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	var buf strings.Builder
	if err := p.Export(ctx, in.Format, &buf); err != nil {
		return nil, err
	}
	return map[string]string{"format": in.Format, "data": buf.String()}, nil
}

// =============================================================================
// ACTIVITY TOOLS
// =============================================================================

type logActivityInput struct {
	EventType    string `json:"event_type"`
	ToolName     string `json:"tool_name"`
	ToolInput    string `json:"tool_input"`
	ToolOutput   string `json:"tool_output"`
	Success      *bool  `json:"success"`
	ErrorMessage string `json:"error_message"`
	DurationMs   *int64 `json:"duration_ms"`
	FilePath     string `json:"file_path"`
}

func (in *logActivityInput) Validate() error {
	if in.EventType == "" {
		return types.Invalidf("event_type", "required")
	}
	if in.Success == nil {
		return types.Invalidf("success", "required")
	}
	return nil
}

func toolLogActivity(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in logActivityInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	act, err := p.LogActivity(ctx, cortex.LogActivityParams{
		EventType:    types.EventType(in.EventType),
		ToolName:     in.ToolName,
		ToolInput:    in.ToolInput,
		ToolOutput:   in.ToolOutput,
		Success:      *in.Success,
		ErrorMessage: in.ErrorMessage,
		DurationMs:   in.DurationMs,
		FilePath:     in.FilePath,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": act.ID}, nil
}

type activityFiltersInput struct {
	SessionID string `json:"session_id"`
	ToolName  string `json:"tool_name"`
	EventType string `json:"event_type"`
	Since     string `json:"since"`
	Until     string `json:"until"`
}

type getActivitiesInput struct {
	Filters activityFiltersInput `json:"filters"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

func (in *getActivitiesInput) Validate() error { return nil }

func toolGetActivities(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in getActivitiesInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}

	f := store.ActivityFilter{
		SessionID: in.Filters.SessionID,
		ToolName:  in.Filters.ToolName,
		EventType: types.EventType(in.Filters.EventType),
	}
	if in.Filters.Since != "" {
		t, err := types.ParseTime(in.Filters.Since)
		if err != nil {
			return nil, types.Invalidf("filters.since", "bad timestamp: %v", err)
		}
		f.Since = &t
	}
	if in.Filters.Until != "" {
		t, err := types.ParseTime(in.Filters.Until)
		if err != nil {
			return nil, types.Invalidf("filters.until", "bad timestamp: %v", err)
		}
		f.Until = &t
	}

	acts, err := p.GetActivities(ctx, f, in.Limit, in.Offset)
	if err != nil {
		return nil, err
	}
	if acts == nil {
		acts = []*types.Activity{}
	}
	return map[string]interface{}{"activities": acts}, nil
}

type timelineInput struct {
	Hours int `json:"hours"`
}

func (in *timelineInput) Validate() error {
	if in.Hours < 0 {
		return types.Invalidf("hours", "must be non-negative")
	}
	return nil
}

func toolGetTimeline(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in timelineInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	events, err := p.Timeline(ctx, in.Hours)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []cortex.TimelineEvent{}
	}
	return map[string]interface{}{"events": events}, nil
}

// =============================================================================
// SESSION TOOLS
// =============================================================================

type startSessionInput struct {
	ProjectPath string `json:"project_path"`
}

func (in *startSessionInput) Validate() error { return nil }

func toolStartSession(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in startSessionInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	// Sessions live in the catalog the connection initialized; a different
	// project path here is a caller mistake, not a rebind.
	if in.ProjectPath != "" && in.ProjectPath != p.Path() {
		return nil, types.Invalidf("project_path", "connection is bound to %s", p.Path())
	}
	sess, err := p.StartSession(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": sess.ID}, nil
}

func toolEndSession(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in emptyInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	sess, err := p.EndSession(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": sess.ID, "summary": sess.Summary}, nil
}

func toolGetSessionContext(ctx context.Context, p *cortex.Project, params json.RawMessage) (interface{}, error) {
	var in emptyInput
	if err := decode(params, &in); err != nil {
		return nil, err
	}
	sc, err := p.GetSessionContext(ctx)
	if err != nil {
		return nil, err
	}
	if sc.RecentActivities == nil {
		sc.RecentActivities = []*types.Activity{}
	}
	if sc.RecentMemories == nil {
		sc.RecentMemories = []cortex.ContextMemory{}
	}
	return sc, nil
}

func emptyNotNullMemories(mems []*types.Memory) []*types.Memory {
	if mems == nil {
		return []*types.Memory{}
	}
	return mems
}

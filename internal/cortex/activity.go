package cortex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"omnicortex/internal/store"
	"omnicortex/internal/summarize"
	"omnicortex/internal/types"
)

// LogActivityParams is the raw hook event before ingestion. Tool payloads
// arrive unredacted; only their redacted forms ever reach the catalog.
type LogActivityParams struct {
	EventType    types.EventType
	ToolName     string
	ToolInput    string
	ToolOutput   string
	Success      bool
	ErrorMessage string
	DurationMs   *int64
	FilePath     string
}

// LogActivity ingests one hook event: redact, summarize, project analytics,
// assign the current session (starting one when none exists), persist. A
// stop event additionally closes the session after recording the event.
func (p *Project) LogActivity(ctx context.Context, params LogActivityParams) (*types.Activity, error) {
	if !params.EventType.Valid() {
		return nil, types.Invalidf("event_type", "unknown event type %q", params.EventType)
	}

	input, err := summarize.Redact(params.ToolInput)
	if err != nil {
		return nil, fmt.Errorf("%w: redaction failed: %v", types.ErrInternal, err)
	}
	output, err := summarize.Redact(params.ToolOutput)
	if err != nil {
		return nil, fmt.Errorf("%w: redaction failed: %v", types.ErrInternal, err)
	}

	sess, err := p.sessions.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	proj := summarize.Project(params.ToolName, input)
	act, err := p.store.InsertActivity(ctx, &types.Activity{
		SessionID:     sess.ID,
		EventType:     params.EventType,
		ToolName:      params.ToolName,
		ToolInput:     input,
		ToolOutput:    output,
		Success:       params.Success,
		ErrorMessage:  params.ErrorMessage,
		DurationMs:    params.DurationMs,
		FilePath:      params.FilePath,
		CommandName:   proj.CommandName,
		CommandScope:  proj.CommandScope,
		MCPServer:     proj.MCPServer,
		SkillName:     proj.SkillName,
		Summary:       summarize.Brief(params.ToolName, input),
		SummaryDetail: summarize.Detail(params.ToolName, input, params.Success, params.ErrorMessage),
	})
	if err != nil {
		return nil, err
	}

	if params.EventType == types.EventStop {
		if _, err := p.sessions.End(ctx); err != nil {
			p.logger.Warn("failed to close session on stop", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	return act, nil
}

// GetActivities pages through the activity log, newest first.
func (p *Project) GetActivities(ctx context.Context, f store.ActivityFilter, limit, offset int) ([]*types.Activity, error) {
	return p.store.GetActivities(ctx, f, limit, offset)
}

// SaveUserMessage captures a human utterance: derive the stored statistics,
// assign the current session, persist.
func (p *Project) SaveUserMessage(ctx context.Context, content string) (*types.UserMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, types.Invalidf("content", "must not be empty")
	}
	sess, err := p.sessions.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	msg := summarize.AnalyzeMessage(content)
	msg.SessionID = sess.ID
	return p.store.InsertUserMessage(ctx, &msg)
}

// TimelineEvent is one entry of the interleaved history.
type TimelineEvent struct {
	Kind      string          `json:"kind"` // memory | activity
	Timestamp time.Time       `json:"timestamp"`
	Memory    *types.Memory   `json:"memory,omitempty"`
	Activity  *types.Activity `json:"activity,omitempty"`
}

// defaultTimelineHours is the window when the caller does not give one.
const defaultTimelineHours = 24

// Timeline interleaves memories created and activities logged inside the
// window, newest first.
func (p *Project) Timeline(ctx context.Context, hours int) ([]TimelineEvent, error) {
	if hours < 0 {
		return nil, types.Invalidf("hours", "must be non-negative")
	}
	if hours == 0 {
		hours = defaultTimelineHours
	}
	since := p.clock.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	mems, err := p.store.ListMemories(ctx, store.ListOptions{
		SortBy: "created_at", SortOrder: "desc", Limit: store.MaxLimit,
	})
	if err != nil {
		return nil, err
	}
	acts, err := p.store.GetActivities(ctx, store.ActivityFilter{Since: &since}, store.MaxLimit, 0)
	if err != nil {
		return nil, err
	}

	var events []TimelineEvent
	for _, m := range mems {
		if m.CreatedAt.Before(since) {
			continue
		}
		events = append(events, TimelineEvent{Kind: "memory", Timestamp: m.CreatedAt, Memory: m})
	}
	for _, a := range acts {
		events = append(events, TimelineEvent{Kind: "activity", Timestamp: a.Timestamp, Activity: a})
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	return events, nil
}

package cortex

import (
	"context"

	"omnicortex/internal/store"
	"omnicortex/internal/types"
)

// StartSession begins a new session explicitly, ending the current one first
// when it exists.
func (p *Project) StartSession(ctx context.Context) (*types.Session, error) {
	return p.sessions.Start(ctx)
}

// EndSession closes the current session and returns it with its derived
// summary.
func (p *Project) EndSession(ctx context.Context) (*types.Session, error) {
	return p.sessions.End(ctx)
}

// contextWindow bounds how many recent rows a session context carries.
const contextWindow = 10

// ContextMemory is a recently used memory plus one hop of its link graph.
// MoreLinks marks neighbors that themselves link further; the graph may
// contain cycles so nothing past the first hop is traversed.
type ContextMemory struct {
	Memory    *types.Memory `json:"memory"`
	Links     []types.Link  `json:"links,omitempty"`
	MoreLinks bool          `json:"more_links,omitempty"`
}

// SessionContext is the working-state digest for an assistant rejoining a
// project.
type SessionContext struct {
	CurrentSession   *types.Session    `json:"current_session,omitempty"`
	RecentActivities []*types.Activity `json:"recent_activities"`
	RecentMemories   []ContextMemory   `json:"recent_memories"`
}

// GetSessionContext gathers the current session, its recent activities, and
// the most recently touched memories with one hop of links each.
func (p *Project) GetSessionContext(ctx context.Context) (*SessionContext, error) {
	out := &SessionContext{}

	cur, err := p.sessions.Current(ctx)
	if err != nil {
		return nil, err
	}
	out.CurrentSession = cur

	actFilter := store.ActivityFilter{}
	if cur != nil {
		actFilter.SessionID = cur.ID
	}
	if out.RecentActivities, err = p.store.GetActivities(ctx, actFilter, contextWindow, 0); err != nil {
		return nil, err
	}

	mems, err := p.store.ListMemories(ctx, store.ListOptions{
		SortBy: "last_accessed", SortOrder: "desc", Limit: contextWindow,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(mems))
	for _, m := range mems {
		links, err := p.store.Links(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		cm := ContextMemory{Memory: m, Links: links}
		cm.MoreLinks, err = p.hasFurtherLinks(ctx, m.ID, links)
		if err != nil {
			return nil, err
		}
		out.RecentMemories = append(out.RecentMemories, cm)
		ids = append(ids, m.ID)
	}
	p.touch(ctx, ids)

	return out, nil
}

// hasFurtherLinks reports whether any one-hop neighbor has edges beyond the
// ones already included.
func (p *Project) hasFurtherLinks(ctx context.Context, id string, links []types.Link) (bool, error) {
	for _, l := range links {
		neighbor := l.ToID
		if neighbor == id {
			neighbor = l.FromID
		}
		next, err := p.store.Links(ctx, neighbor)
		if err != nil {
			return false, err
		}
		for _, nl := range next {
			if nl.FromID != id && nl.ToID != id {
				return true, nil
			}
		}
	}
	return false, nil
}

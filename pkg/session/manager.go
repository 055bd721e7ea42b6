package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/snowcode-dev/snowcode/pkg/bus"
	"github.com/snowcode-dev/snowcode/pkg/storage"
)

// Manager answers queries that span sessions or projects: global listings
// with usage rollups, tree navigation (children, ancestry) and title
// management. It works directly over the storage backend; per-session
// mutation goes through Service.
type Manager struct {
	store storage.Backend
	bus   *bus.Bus
}

// NewManager creates a manager over the given backend.
func NewManager(store storage.Backend, b *bus.Bus) *Manager {
	return &Manager{store: store, bus: b}
}

// SessionStat is the usage rollup attached to a global listing entry,
// computed by replaying the session's message log.
type SessionStat struct {
	MessageCount int        `json:"messageCount"`
	ChildCount   int        `json:"childCount"`
	Cost         float64    `json:"cost"`
	Tokens       TokenUsage `json:"tokens"`
}

// Listing is one entry of a global session listing.
type Listing struct {
	Session *Session    `json:"session"`
	Stat    SessionStat `json:"stat"`
}

// ListResult is a global listing: the surviving sessions, the project ids
// touched by the scan, and the match count before the limit was applied.
type ListResult struct {
	Sessions []*Listing `json:"sessions"`
	Projects []string   `json:"projects"`
	Total    int        `json:"total"`
}

// Sort keys accepted by ListOptions.
const (
	SortUpdated  = "updated"
	SortCreated  = "created"
	SortCost     = "cost"
	SortMessages = "messages"
	SortTitle    = "title"
)

// ListOptions filters and orders a global listing.
type ListOptions struct {
	// Search keeps only sessions whose title contains this substring,
	// case-insensitively.
	Search string
	// SortBy is one of the Sort constants. Defaults to SortUpdated.
	SortBy string
	// Ascending flips the default newest/biggest-first order.
	Ascending bool
	// Limit caps the result count after sorting. 0 means no cap.
	Limit int
	// RootsOnly drops forked sessions from the listing.
	RootsOnly bool
}

// List returns sessions with usage stats, filtered and ordered per opts.
// An empty projectID scans every project. Stats come from a full message
// replay per session, so this scales with total stored history; the limit
// applies only after full computation.
func (m *Manager) List(ctx context.Context, projectID string, opts ListOptions) (*ListResult, error) {
	paths, err := m.store.List(ctx, sessionPrefix(projectID))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	childCounts, err := m.childCounts(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var listings []*Listing
	projects := map[string]bool{}
	for _, p := range paths {
		sess, err := storage.ReadJSON[Session](ctx, m.store, p)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		projects[sess.ProjectID] = true
		if opts.RootsOnly && sess.ParentID != "" {
			continue
		}
		if opts.Search != "" && !strings.Contains(strings.ToLower(sess.Title), strings.ToLower(opts.Search)) {
			continue
		}

		stat, err := m.stat(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		stat.ChildCount = childCounts[sess.ID]
		listings = append(listings, &Listing{Session: sess, Stat: stat})
	}

	sortListings(listings, opts.SortBy, opts.Ascending)

	result := &ListResult{Total: len(listings)}
	if opts.Limit > 0 && len(listings) > opts.Limit {
		listings = listings[:opts.Limit]
	}
	result.Sessions = listings

	result.Projects = make([]string, 0, len(projects))
	for id := range projects {
		result.Projects = append(result.Projects, id)
	}
	sort.Strings(result.Projects)
	return result, nil
}

func sessionPrefix(projectID string) []string {
	if projectID == "" {
		return []string{"session"}
	}
	return []string{"session", projectID}
}

// resolveProject returns projectID unchanged when given, otherwise locates
// the session across all projects.
func (m *Manager) resolveProject(ctx context.Context, projectID, sessionID string) (string, error) {
	if projectID != "" {
		return projectID, nil
	}
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	return sess.ProjectID, nil
}

func (m *Manager) stat(ctx context.Context, sessionID string) (SessionStat, error) {
	var stat SessionStat

	msgPaths, err := m.store.List(ctx, []string{"message", sessionID})
	if err != nil {
		return stat, fmt.Errorf("list messages: %w", err)
	}

	cost := decimal.Zero
	for _, mp := range msgPaths {
		msg, err := storage.ReadJSON[Message](ctx, m.store, mp)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return stat, err
		}
		stat.MessageCount++
		cost = cost.Add(decimal.NewFromFloat(msg.Cost))
		if msg.Tokens != nil {
			stat.Tokens.Add(*msg.Tokens)
		}
	}
	stat.Cost, _ = cost.Float64()
	return stat, nil
}

// childCounts builds parentID -> child count from the child index merged
// with a full scan, so pre-index sessions still count.
func (m *Manager) childCounts(ctx context.Context, projectID string) (map[string]int, error) {
	seen := map[string]bool{}
	counts := map[string]int{}

	idxPrefix := []string{"session-children"}
	if projectID != "" {
		idxPrefix = append(idxPrefix, projectID)
	}
	idxPaths, err := m.store.List(ctx, idxPrefix)
	if err != nil {
		return nil, fmt.Errorf("list child index: %w", err)
	}
	for _, p := range idxPaths {
		// ["session-children", projectID, parentID, childID]
		if len(p) < 4 {
			continue
		}
		parentID, childID := p[len(p)-2], p[len(p)-1]
		if !seen[childID] {
			seen[childID] = true
			counts[parentID]++
		}
	}

	sessPaths, err := m.store.List(ctx, sessionPrefix(projectID))
	if err != nil {
		return nil, err
	}
	for _, p := range sessPaths {
		sess, err := storage.ReadJSON[Session](ctx, m.store, p)
		if err != nil {
			continue
		}
		if sess.ParentID != "" && !seen[sess.ID] {
			seen[sess.ID] = true
			counts[sess.ParentID]++
		}
	}
	return counts, nil
}

func sortListings(listings []*Listing, sortBy string, ascending bool) {
	if sortBy == "" {
		sortBy = SortUpdated
	}
	less := func(a, b *Listing) bool {
		switch sortBy {
		case SortCreated:
			return a.Session.Time.Created > b.Session.Time.Created
		case SortCost:
			return a.Stat.Cost > b.Stat.Cost
		case SortMessages:
			return a.Stat.MessageCount > b.Stat.MessageCount
		case SortTitle:
			return strings.ToLower(a.Session.Title) < strings.ToLower(b.Session.Title)
		default:
			return a.Session.Time.Updated > b.Session.Time.Updated
		}
	}
	sort.SliceStable(listings, func(i, j int) bool {
		if ascending {
			return less(listings[j], listings[i])
		}
		return less(listings[i], listings[j])
	})
}

// Get finds a session by id across all projects. Returns nil, nil when no
// project holds it. Probes every project namespace, which is acceptable at
// local scale.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	paths, err := m.store.List(ctx, []string{"session"})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	for _, p := range paths {
		if p[len(p)-1] != id {
			continue
		}
		sess, err := storage.ReadJSON[Session](ctx, m.store, p)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		return sess, nil
	}
	return nil, nil
}

// Rename sets the session title and publishes session.renamed alongside the
// usual session.updated. With an empty projectID the session is located
// across all projects first.
func (m *Manager) Rename(ctx context.Context, projectID, id, title string) (*Session, error) {
	projectID, err := m.resolveProject(ctx, projectID, id)
	if err != nil {
		return nil, err
	}

	var oldTitle string
	sess, err := updateSession(ctx, m.store, projectID, id, func(v *Session) {
		oldTitle = v.Title
		v.Title = title
	})
	if err != nil {
		return nil, err
	}
	m.bus.Publish(SessionUpdated{Info: sess})
	m.bus.Publish(SessionRenamed{
		SessionID: id,
		ProjectID: projectID,
		OldTitle:  oldTitle,
		NewTitle:  title,
	})
	return sess, nil
}

// autoTitleMax caps generated titles.
const autoTitleMax = 50

// AutoTitle derives a title from the first user message's first text part
// and applies it via Rename. Sessions with no usable text keep their
// placeholder title; that is not an error.
func (m *Manager) AutoTitle(ctx context.Context, projectID, id string) (*Session, error) {
	projectID, err := m.resolveProject(ctx, projectID, id)
	if err != nil {
		return nil, err
	}

	msgPaths, err := m.store.List(ctx, []string{"message", id})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	ids := make([]string, 0, len(msgPaths))
	byID := map[string]*Message{}
	for _, mp := range msgPaths {
		msg, err := storage.ReadJSON[Message](ctx, m.store, mp)
		if err != nil {
			continue
		}
		ids = append(ids, msg.ID)
		byID[msg.ID] = msg
	}
	sort.Strings(ids)

	for _, msgID := range ids {
		if byID[msgID].Role != RoleUser {
			continue
		}
		title, ok := m.firstText(ctx, msgID)
		if !ok {
			continue
		}
		return m.Rename(ctx, projectID, id, title)
	}
	return nil, nil
}

func (m *Manager) firstText(ctx context.Context, messageID string) (string, bool) {
	partPaths, err := m.store.List(ctx, []string{"part", messageID})
	if err != nil {
		return "", false
	}
	sort.Slice(partPaths, func(i, j int) bool {
		return partPaths[i][len(partPaths[i])-1] < partPaths[j][len(partPaths[j])-1]
	})
	for _, pp := range partPaths {
		part, err := storage.ReadJSON[Part](ctx, m.store, pp)
		if err != nil || part.Type != PartTypeText || part.Synthetic {
			continue
		}
		text := strings.TrimSpace(strings.ReplaceAll(part.Text, "\n", " "))
		if text == "" {
			continue
		}
		// Truncate on rune boundaries so multi-byte text stays valid UTF-8.
		if runes := []rune(text); len(runes) > autoTitleMax {
			text = string(runes[:autoTitleMax]) + "..."
		}
		return text, true
	}
	return "", false
}

// Children returns the direct children of a session, oldest first. Uses the
// child index merged with a full scan for sessions recorded before the
// index existed.
func (m *Manager) Children(ctx context.Context, projectID, parentID string) ([]*Session, error) {
	projectID, err := m.resolveProject(ctx, projectID, parentID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var children []*Session

	add := func(sess *Session) {
		if !seen[sess.ID] {
			seen[sess.ID] = true
			children = append(children, sess)
		}
	}

	idxPaths, err := m.store.List(ctx, []string{"session-children", projectID, parentID})
	if err != nil {
		return nil, fmt.Errorf("list child index: %w", err)
	}
	for _, p := range idxPaths {
		sess, err := storage.ReadJSON[Session](ctx, m.store, []string{"session", projectID, p[len(p)-1]})
		if err != nil {
			continue // stale index entry
		}
		add(sess)
	}

	sessPaths, err := m.store.List(ctx, []string{"session", projectID})
	if err != nil {
		return nil, err
	}
	for _, p := range sessPaths {
		sess, err := storage.ReadJSON[Session](ctx, m.store, p)
		if err != nil {
			continue
		}
		if sess.ParentID == parentID {
			add(sess)
		}
	}

	sort.Slice(children, func(i, j int) bool {
		return children[i].Time.Created < children[j].Time.Created
	})
	return children, nil
}

// Ancestry returns the chain of ancestors from the root down to the given
// session, inclusive. A dangling parent pointer ends the walk silently: the
// chain starts at the oldest ancestor that still exists.
func (m *Manager) Ancestry(ctx context.Context, projectID, id string) ([]*Session, error) {
	projectID, err := m.resolveProject(ctx, projectID, id)
	if err != nil {
		return nil, err
	}

	var chain []*Session
	cur := id
	for cur != "" {
		sess, err := storage.ReadJSON[Session](ctx, m.store, []string{"session", projectID, cur})
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) && len(chain) > 0 {
				break
			}
			return nil, fmt.Errorf("session %s: %w", cur, err)
		}
		chain = append(chain, sess)
		cur = sess.ParentID
	}

	// Walked child -> root; callers want root first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Roots returns the root sessions, newest first. An empty projectID scans
// every project.
func (m *Manager) Roots(ctx context.Context, projectID string) ([]*Session, error) {
	paths, err := m.store.List(ctx, sessionPrefix(projectID))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var roots []*Session
	for _, p := range paths {
		sess, err := storage.ReadJSON[Session](ctx, m.store, p)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if sess.ParentID == "" {
			roots = append(roots, sess)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		return roots[i].Time.Created > roots[j].Time.Created
	})
	return roots, nil
}

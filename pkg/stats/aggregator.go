// Package stats computes usage rollups over stored session history: cost and
// token totals, per-model and per-day breakdowns, tool invocation stats and
// the most expensive sessions. Everything is derived by replaying message
// logs; nothing is cached in storage.
package stats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/snowcode-dev/snowcode/pkg/session"
	"github.com/snowcode-dev/snowcode/pkg/storage"
)

// ModelStat is a cost/token rollup for one model.
type ModelStat struct {
	Model    string             `json:"model"`
	Cost     float64            `json:"cost"`
	Tokens   session.TokenUsage `json:"tokens"`
	Messages int                `json:"messages"`
}

// DayStat is a cost/token rollup for one calendar day (UTC).
type DayStat struct {
	Day      string             `json:"day"` // YYYY-MM-DD
	Cost     float64            `json:"cost"`
	Tokens   session.TokenUsage `json:"tokens"`
	Messages int                `json:"messages"`
}

// ToolStat summarizes invocations of one tool.
type ToolStat struct {
	Tool        string        `json:"tool"`
	Count       int           `json:"count"`
	Errors      int           `json:"errors"`
	SuccessRate float64       `json:"successRate"`
	AvgDuration time.Duration `json:"avgDuration"`
}

// SessionCost names a session with its accumulated cost, for top-N reports.
type SessionCost struct {
	SessionID string  `json:"sessionID"`
	Title     string  `json:"title"`
	Cost      float64 `json:"cost"`
	Messages  int     `json:"messages"`
}

// Report is a full aggregation pass over one project.
type Report struct {
	Sessions   int                `json:"sessions"`
	Messages   int                `json:"messages"`
	TotalCost  float64            `json:"totalCost"`
	Tokens     session.TokenUsage `json:"tokens"`
	ByModel    []ModelStat        `json:"byModel"`
	ByDay      []DayStat          `json:"byDay"`
	ByTool     []ToolStat         `json:"byTool"`
	TopsByCost []SessionCost      `json:"topByCost"`
}

// Options bounds an aggregation pass.
type Options struct {
	// Days keeps only messages created within the last N days. 0 means all
	// history.
	Days int
	// TopN caps TopsByCost. Defaults to 10.
	TopN int
}

// Aggregator replays stored history into reports.
type Aggregator struct {
	store storage.Backend
}

// NewAggregator creates an aggregator over the given backend.
func NewAggregator(store storage.Backend) *Aggregator {
	return &Aggregator{store: store}
}

// Aggregate replays every session in the project into a Report. An empty
// projectID aggregates across all projects. Cost accumulation stays in
// decimals; floats appear only in the final report.
func (a *Aggregator) Aggregate(ctx context.Context, projectID string, opts Options) (*Report, error) {
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	var cutoff int64
	if opts.Days > 0 {
		cutoff = time.Now().AddDate(0, 0, -opts.Days).UnixMilli()
	}

	prefix := []string{"session"}
	if projectID != "" {
		prefix = append(prefix, projectID)
	}
	sessPaths, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	report := &Report{}
	totalCost := decimal.Zero
	byModel := map[string]*modelAccum{}
	byDay := map[string]*modelAccum{}
	byTool := map[string]*toolAccum{}
	var topCosts []SessionCost

	for _, sp := range sessPaths {
		sess, err := storage.ReadJSON[session.Session](ctx, a.store, sp)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		report.Sessions++

		sessCost := decimal.Zero
		sessMessages := 0

		msgPaths, err := a.store.List(ctx, []string{"message", sess.ID})
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, mp := range msgPaths {
			msg, err := storage.ReadJSON[session.Message](ctx, a.store, mp)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return nil, err
			}
			if cutoff > 0 && msg.Time.Created < cutoff {
				continue
			}

			report.Messages++
			sessMessages++
			cost := decimal.NewFromFloat(msg.Cost)
			sessCost = sessCost.Add(cost)
			totalCost = totalCost.Add(cost)
			if msg.Tokens != nil {
				report.Tokens.Add(*msg.Tokens)
			}

			if msg.ModelID != "" {
				accum(byModel, msg.ModelID, msg, cost)
			}
			day := time.UnixMilli(msg.Time.Created).UTC().Format("2006-01-02")
			accum(byDay, day, msg, cost)

			if err := a.accumTools(ctx, msg.ID, byTool); err != nil {
				return nil, err
			}
		}

		if sessMessages > 0 {
			c, _ := sessCost.Float64()
			topCosts = append(topCosts, SessionCost{
				SessionID: sess.ID,
				Title:     sess.Title,
				Cost:      c,
				Messages:  sessMessages,
			})
		}
	}

	report.TotalCost, _ = totalCost.Float64()
	report.ByModel = flattenModels(byModel)
	report.ByDay = flattenDays(byDay)
	report.ByTool = flattenTools(byTool)

	sort.Slice(topCosts, func(i, j int) bool { return topCosts[i].Cost > topCosts[j].Cost })
	if len(topCosts) > opts.TopN {
		topCosts = topCosts[:opts.TopN]
	}
	report.TopsByCost = topCosts

	return report, nil
}

type modelAccum struct {
	cost     decimal.Decimal
	tokens   session.TokenUsage
	messages int
}

func accum(m map[string]*modelAccum, key string, msg *session.Message, cost decimal.Decimal) {
	acc := m[key]
	if acc == nil {
		acc = &modelAccum{}
		m[key] = acc
	}
	acc.cost = acc.cost.Add(cost)
	acc.messages++
	if msg.Tokens != nil {
		acc.tokens.Add(*msg.Tokens)
	}
}

type toolAccum struct {
	count    int
	errors   int
	total    time.Duration
	finished int
}

func (a *Aggregator) accumTools(ctx context.Context, messageID string, byTool map[string]*toolAccum) error {
	partPaths, err := a.store.List(ctx, []string{"part", messageID})
	if err != nil {
		return fmt.Errorf("list parts: %w", err)
	}
	for _, pp := range partPaths {
		part, err := storage.ReadJSON[session.Part](ctx, a.store, pp)
		if err != nil {
			continue
		}
		if part.Type != session.PartTypeTool || part.Tool == "" || part.State == nil {
			continue
		}
		acc := byTool[part.Tool]
		if acc == nil {
			acc = &toolAccum{}
			byTool[part.Tool] = acc
		}
		acc.count++
		if part.State.Status == session.ToolError {
			acc.errors++
		}
		if d, ok := part.State.Duration(); ok {
			acc.total += d
			acc.finished++
		}
	}
	return nil
}

func flattenModels(m map[string]*modelAccum) []ModelStat {
	out := make([]ModelStat, 0, len(m))
	for model, acc := range m {
		c, _ := acc.cost.Float64()
		out = append(out, ModelStat{Model: model, Cost: c, Tokens: acc.tokens, Messages: acc.messages})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cost > out[j].Cost })
	return out
}

func flattenDays(m map[string]*modelAccum) []DayStat {
	out := make([]DayStat, 0, len(m))
	for day, acc := range m {
		c, _ := acc.cost.Float64()
		out = append(out, DayStat{Day: day, Cost: c, Tokens: acc.tokens, Messages: acc.messages})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

func flattenTools(m map[string]*toolAccum) []ToolStat {
	out := make([]ToolStat, 0, len(m))
	for tool, acc := range m {
		stat := ToolStat{Tool: tool, Count: acc.count, Errors: acc.errors}
		if acc.count > 0 {
			stat.SuccessRate = float64(acc.count-acc.errors) / float64(acc.count)
		}
		if acc.finished > 0 {
			stat.AvgDuration = acc.total / time.Duration(acc.finished)
		}
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

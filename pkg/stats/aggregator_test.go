package stats

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/snowcode-dev/snowcode/pkg/bus"
	"github.com/snowcode-dev/snowcode/pkg/session"
	"github.com/snowcode-dev/snowcode/pkg/storage"
)

func newTestStore(t *testing.T) (storage.Backend, *session.Service) {
	t.Helper()
	store, err := storage.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, session.NewService(store, bus.New(), "prj", "/tmp/workdir")
}

func seedAssistantMessage(t *testing.T, svc *session.Service, sessionID, model string, cost float64, createdAt int64) *session.Message {
	t.Helper()
	msg := &session.Message{
		ID:        session.NewMessageID(),
		SessionID: sessionID,
		Role:      session.RoleAssistant,
		Time:      session.MessageTime{Created: createdAt},
		ModelID:   model,
		Cost:      cost,
		Tokens:    &session.TokenUsage{Input: 100, Output: 50},
	}
	if err := svc.UpdateMessage(context.Background(), msg); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	return msg
}

func seedToolPart(t *testing.T, svc *session.Service, sessionID, messageID, tool string, status session.ToolStatus, dur time.Duration) {
	t.Helper()
	start := time.Now().UnixMilli()
	part := &session.Part{
		ID:        session.NewPartID(),
		SessionID: sessionID,
		MessageID: messageID,
		Type:      session.PartTypeTool,
		CallID:    "call-1",
		Tool:      tool,
		State: &session.ToolState{
			Status: status,
			Time: &session.ToolStateTime{
				Start: start,
				End:   start + dur.Milliseconds(),
			},
		},
	}
	if err := svc.UpdatePart(context.Background(), part, ""); err != nil {
		t.Fatalf("UpdatePart: %v", err)
	}
}

func TestAggregateTotals(t *testing.T) {
	store, svc := newTestStore(t)
	ctx := context.Background()

	s1, _ := svc.Create(ctx, session.CreateOptions{Title: "cheap"})
	seedAssistantMessage(t, svc, s1.ID, "gpt-4o", 0.25, time.Now().UnixMilli())

	s2, _ := svc.Create(ctx, session.CreateOptions{Title: "pricey"})
	seedAssistantMessage(t, svc, s2.ID, "claude-sonnet-4", 1.50, time.Now().UnixMilli())
	seedAssistantMessage(t, svc, s2.ID, "claude-sonnet-4", 0.75, time.Now().UnixMilli())

	report, err := NewAggregator(store).Aggregate(ctx, "prj", Options{})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if report.Sessions != 2 {
		t.Errorf("Sessions = %d, want 2", report.Sessions)
	}
	if report.Messages != 3 {
		t.Errorf("Messages = %d, want 3", report.Messages)
	}
	if math.Abs(report.TotalCost-2.50) > 1e-9 {
		t.Errorf("TotalCost = %f, want 2.50", report.TotalCost)
	}
	if report.Tokens.Input != 300 || report.Tokens.Output != 150 {
		t.Errorf("Tokens = %+v", report.Tokens)
	}

	if len(report.ByModel) != 2 {
		t.Fatalf("ByModel = %+v", report.ByModel)
	}
	// Biggest spender first.
	if report.ByModel[0].Model != "claude-sonnet-4" || report.ByModel[0].Messages != 2 {
		t.Errorf("ByModel[0] = %+v", report.ByModel[0])
	}
	if math.Abs(report.ByModel[0].Cost-2.25) > 1e-9 {
		t.Errorf("ByModel[0].Cost = %f, want 2.25", report.ByModel[0].Cost)
	}

	if len(report.TopsByCost) != 2 || report.TopsByCost[0].SessionID != s2.ID {
		t.Errorf("TopsByCost = %+v", report.TopsByCost)
	}
}

func TestAggregateToolStats(t *testing.T) {
	store, svc := newTestStore(t)
	ctx := context.Background()

	sess, _ := svc.Create(ctx, session.CreateOptions{})
	msg := seedAssistantMessage(t, svc, sess.ID, "gpt-4o", 0.1, time.Now().UnixMilli())

	seedToolPart(t, svc, sess.ID, msg.ID, "bash", session.ToolCompleted, 100*time.Millisecond)
	seedToolPart(t, svc, sess.ID, msg.ID, "bash", session.ToolCompleted, 300*time.Millisecond)
	seedToolPart(t, svc, sess.ID, msg.ID, "bash", session.ToolError, 200*time.Millisecond)
	seedToolPart(t, svc, sess.ID, msg.ID, "edit", session.ToolCompleted, 50*time.Millisecond)

	report, err := NewAggregator(store).Aggregate(ctx, "prj", Options{})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if len(report.ByTool) != 2 {
		t.Fatalf("ByTool = %+v", report.ByTool)
	}
	bash := report.ByTool[0]
	if bash.Tool != "bash" || bash.Count != 3 || bash.Errors != 1 {
		t.Errorf("bash = %+v", bash)
	}
	if math.Abs(bash.SuccessRate-2.0/3.0) > 1e-9 {
		t.Errorf("bash success rate = %f", bash.SuccessRate)
	}
	if bash.AvgDuration != 200*time.Millisecond {
		t.Errorf("bash avg duration = %s, want 200ms", bash.AvgDuration)
	}
}

func TestAggregateDayWindow(t *testing.T) {
	store, svc := newTestStore(t)
	ctx := context.Background()

	sess, _ := svc.Create(ctx, session.CreateOptions{})
	old := time.Now().AddDate(0, 0, -30).UnixMilli()
	seedAssistantMessage(t, svc, sess.ID, "gpt-4o", 5.0, old)
	seedAssistantMessage(t, svc, sess.ID, "gpt-4o", 1.0, time.Now().UnixMilli())

	report, err := NewAggregator(store).Aggregate(ctx, "prj", Options{Days: 7})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if report.Messages != 1 {
		t.Errorf("Messages = %d, want only the recent one", report.Messages)
	}
	if math.Abs(report.TotalCost-1.0) > 1e-9 {
		t.Errorf("TotalCost = %f, want 1.0", report.TotalCost)
	}
	if len(report.ByDay) != 1 {
		t.Errorf("ByDay = %+v", report.ByDay)
	}
}

func TestAggregateTopN(t *testing.T) {
	store, svc := newTestStore(t)
	ctx := context.Background()

	for _, cost := range []float64{0.1, 0.5, 0.3} {
		sess, _ := svc.Create(ctx, session.CreateOptions{})
		seedAssistantMessage(t, svc, sess.ID, "gpt-4o", cost, time.Now().UnixMilli())
	}

	report, err := NewAggregator(store).Aggregate(ctx, "prj", Options{TopN: 2})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(report.TopsByCost) != 2 {
		t.Fatalf("TopsByCost = %+v", report.TopsByCost)
	}
	if report.TopsByCost[0].Cost < report.TopsByCost[1].Cost {
		t.Errorf("ranking not descending: %+v", report.TopsByCost)
	}
}

func TestAggregateAllProjects(t *testing.T) {
	store, err := storage.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	alpha := session.NewService(store, bus.New(), "alpha", "/tmp/alpha")
	beta := session.NewService(store, bus.New(), "beta", "/tmp/beta")

	s1, _ := alpha.Create(ctx, session.CreateOptions{})
	seedAssistantMessage(t, alpha, s1.ID, "gpt-4o", 0.4, time.Now().UnixMilli())
	s2, _ := beta.Create(ctx, session.CreateOptions{})
	seedAssistantMessage(t, beta, s2.ID, "gpt-4o", 0.6, time.Now().UnixMilli())

	// Empty project id covers every project.
	report, err := NewAggregator(store).Aggregate(ctx, "", Options{})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if report.Sessions != 2 || report.Messages != 2 {
		t.Errorf("global report = %+v", report)
	}
	if math.Abs(report.TotalCost-1.0) > 1e-9 {
		t.Errorf("TotalCost = %f, want 1.0", report.TotalCost)
	}

	scoped, err := NewAggregator(store).Aggregate(ctx, "alpha", Options{})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if scoped.Sessions != 1 || scoped.Messages != 1 {
		t.Errorf("scoped report = %+v", scoped)
	}
}

func TestAggregateEmptyProject(t *testing.T) {
	store, _ := newTestStore(t)

	report, err := NewAggregator(store).Aggregate(context.Background(), "prj", Options{})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if report.Sessions != 0 || report.Messages != 0 || report.TotalCost != 0 {
		t.Errorf("report = %+v", report)
	}
}

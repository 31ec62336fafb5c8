package anticheat

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeHistory struct {
	reactions []int64
	completed int
	wins      int
}

func (f *fakeHistory) RecentReactions(ctx context.Context, userID string, limit int) ([]int64, error) {
	if limit > len(f.reactions) {
		limit = len(f.reactions)
	}
	return f.reactions[:limit], nil
}

func (f *fakeHistory) WinStats(ctx context.Context, userID string, window time.Duration) (int, int, error) {
	return f.completed, f.wins, nil
}

type fakeAudit struct {
	findings []string
}

func (f *fakeAudit) RecordFinding(ctx context.Context, userID, kind string, payload map[string]any) error {
	f.findings = append(f.findings, kind)
	return nil
}

func repeat(v int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestDetectorFlagsBotConsistency(t *testing.T) {
	history := &fakeHistory{reactions: repeat(140, 12)}
	audit := &fakeAudit{}
	NewDetector(history, audit, zap.NewNop()).Inspect(context.Background(), "u1")

	if !contains(audit.findings, FindingBotConsistency) {
		t.Fatalf("expected bot consistency finding, got %v", audit.findings)
	}
}

func TestDetectorFlagsInhumanMean(t *testing.T) {
	history := &fakeHistory{reactions: repeat(90, 6)}
	audit := &fakeAudit{}
	NewDetector(history, audit, zap.NewNop()).Inspect(context.Background(), "u1")

	if !contains(audit.findings, FindingInhumanMean) {
		t.Fatalf("expected inhuman mean finding, got %v", audit.findings)
	}
}

func TestDetectorFlagsHighWinRate(t *testing.T) {
	history := &fakeHistory{reactions: repeat(250, 3), completed: 25, wins: 24}
	audit := &fakeAudit{}
	NewDetector(history, audit, zap.NewNop()).Inspect(context.Background(), "u1")

	if !contains(audit.findings, FindingHighWinRate) {
		t.Fatalf("expected win-rate finding, got %v", audit.findings)
	}
}

func TestDetectorCleanHistoryNoFindings(t *testing.T) {
	// Varied human reactions and a normal win rate.
	history := &fakeHistory{
		reactions: []int64{220, 310, 190, 260, 285, 240, 350, 205, 275, 230, 295, 215},
		completed: 30,
		wins:      16,
	}
	audit := &fakeAudit{}
	NewDetector(history, audit, zap.NewNop()).Inspect(context.Background(), "u1")

	if len(audit.findings) != 0 {
		t.Fatalf("expected no findings, got %v", audit.findings)
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

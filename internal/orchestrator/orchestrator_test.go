package orchestrator

import (
	"context"
	"math"
	"testing"

	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/aggregator"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/he"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/transport"
)

// fakeTransport replies with pre-programmed outcomes per client, with no
// actual network or process boundary.
type fakeTransport struct {
	replies map[string]transport.Reply
}

func (f *fakeTransport) Send(ctx context.Context, client string, msg transport.Message) (transport.Reply, error) {
	r, ok := f.replies[client]
	if !ok {
		return transport.Reply{Outcome: transport.OutcomeTaskUnknown}, nil
	}
	return r, nil
}

func okReply(body map[string][]float32, loss, auc float32, samples uint32) transport.Reply {
	payload := transport.Payload{}
	for k, v := range body {
		payload[k] = transport.PlainValue([]int{len(v)}, v)
	}
	return transport.Reply{
		Outcome: transport.OutcomeOK,
		Payload: payload,
		Meta: map[string]float64{
			"local_loss":  float64(loss),
			"local_auc":   float64(auc),
			"num_samples": float64(samples),
		},
	}
}

func TestRunRounds_InsufficientQuorumMarksFailedAndContinues(t *testing.T) {
	// 3 clients configured, only 2 OK responses.
	ft := &fakeTransport{replies: map[string]transport.Reply{
		"c1": okReply(map[string][]float32{"p": {0, 0}}, 0.1, 0.9, 10),
		"c2": okReply(map[string][]float32{"p": {1, 0}}, 0.1, 0.9, 10),
		"c3": {Outcome: transport.OutcomeExecutionException},
	}}

	heCtx, err := he.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o := New(Config{NumRounds: 1, MinClients: 3}, aggregator.New(), heCtx, nil, ft, []string{"c1", "c2", "c3"}, nil)
	o.RunRounds(context.Background())

	if o.State() != StateFailed {
		t.Errorf("expected final state Failed, got %v", o.State())
	}
}

func TestRunRounds_SufficientQuorumCompletes(t *testing.T) {
	ft := &fakeTransport{replies: map[string]transport.Reply{
		"c1": okReply(map[string][]float32{"p": {0, 0}}, 0.1, 0.9, 10),
		"c2": okReply(map[string][]float32{"p": {1, 0}}, 0.2, 0.8, 10),
		"c3": okReply(map[string][]float32{"p": {0, 1}}, 0.3, 0.7, 10),
	}}

	heCtx, err := he.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o := New(Config{NumRounds: 1, MinClients: 3}, aggregator.New(), heCtx, nil, ft, []string{"c1", "c2", "c3"}, nil)
	o.RunRounds(context.Background())

	if o.State() != StateCompleted {
		t.Errorf("expected final state Completed, got %v", o.State())
	}
}

func TestRunRounds_AbortStopsBeforeNextRound(t *testing.T) {
	ft := &fakeTransport{replies: map[string]transport.Reply{
		"c1": okReply(map[string][]float32{"p": {0, 0}}, 0.1, 0.9, 10),
		"c2": okReply(map[string][]float32{"p": {1, 0}}, 0.1, 0.9, 10),
		"c3": okReply(map[string][]float32{"p": {0, 1}}, 0.1, 0.9, 10),
	}}

	heCtx, err := he.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(Config{NumRounds: 5, MinClients: 3}, aggregator.New(), heCtx, nil, ft, []string{"c1", "c2", "c3"}, nil)
	o.RunRounds(ctx)

	if o.round != 1 {
		t.Errorf("expected abort before any round ran, round counter at %d", o.round)
	}
}

func TestTrustScore_Formula(t *testing.T) {
	// distance 0.1 -> score ~0.909, not flagged;
	// distance 5.0 -> score ~0.167, flagged.
	cases := []struct {
		distance    float32
		wantScore   float32
		wantFlagged bool
	}{
		{0.1, 0.909, false},
		{5.0, 0.167, true},
	}

	for _, tc := range cases {
		score := 1.0 / (1.0 + tc.distance)
		if math.Abs(float64(score-tc.wantScore)) > 0.01 {
			t.Errorf("distance %v: expected score ≈%v, got %v", tc.distance, tc.wantScore, score)
		}
		flagged := score < 0.3
		if flagged != tc.wantFlagged {
			t.Errorf("distance %v: expected flagged=%v, got %v", tc.distance, tc.wantFlagged, flagged)
		}
	}
}

func TestTrustDriftMetrics_StableFlagsAgreeHighARILowVI(t *testing.T) {
	prev := map[string]int{"c1": 0, "c2": 0, "c3": 1, "c4": 1}
	curr := map[string]int{"c1": 0, "c2": 0, "c3": 1, "c4": 1}

	ari, vi, ok := trustDriftMetrics(prev, curr)
	if !ok {
		t.Fatal("expected ok=true with two rounds of overlapping clients")
	}
	if ari < 0.99 {
		t.Errorf("expected ARI≈1 for an unchanged flagged partition, got %v", ari)
	}
	if vi > 0.01 {
		t.Errorf("expected VI≈0 for an unchanged flagged partition, got %v", vi)
	}
}

func TestTrustDriftMetrics_ChurningFlagsLowARI(t *testing.T) {
	// c2 and c3 flip their flagged status between rounds.
	prev := map[string]int{"c1": 0, "c2": 0, "c3": 1, "c4": 1}
	curr := map[string]int{"c1": 0, "c2": 1, "c3": 0, "c4": 1}

	ari, vi, ok := trustDriftMetrics(prev, curr)
	if !ok {
		t.Fatal("expected ok=true with two rounds of overlapping clients")
	}
	if ari > 0.5 {
		t.Errorf("expected ARI well below 1 for a churning flagged partition, got %v", ari)
	}
	if vi <= 0 {
		t.Errorf("expected VI > 0 for a churning flagged partition, got %v", vi)
	}
}

func TestTrustDriftMetrics_NoPreviousRoundIsNotOK(t *testing.T) {
	curr := map[string]int{"c1": 0, "c2": 1}
	if _, _, ok := trustDriftMetrics(nil, curr); ok {
		t.Error("expected ok=false with no previous round recorded")
	}
}

func TestTrustDriftMetrics_SingleOverlappingClientIsNotOK(t *testing.T) {
	prev := map[string]int{"c1": 0}
	curr := map[string]int{"c1": 0, "c2": 1}
	if _, _, ok := trustDriftMetrics(prev, curr); ok {
		t.Error("expected ok=false with fewer than two clients common to both rounds")
	}
}

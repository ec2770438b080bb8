package privacy

import (
	"math"
	"testing"

	"github.com/PragalvaXFREZ/privacy-preserving-fl/pkg/tensor"
)

func TestNew_InvalidParameters(t *testing.T) {
	cases := []struct {
		name                                           string
		epsilon, delta, sensitivity, maxGradNorm float32
	}{
		{"zero epsilon", 0, 1e-5, 1, 1},
		{"negative epsilon", -1, 1e-5, 1, 1},
		{"zero delta", 1, 0, 1, 1},
		{"delta equal to one", 1, 1, 1, 1},
		{"zero sensitivity", 1, 1e-5, 0, 1},
		{"zero max grad norm", 1, 1e-5, 1, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.epsilon, tc.delta, tc.sensitivity, tc.maxGradNorm); err == nil {
				t.Errorf("expected InvalidDPParameter error")
			}
		})
	}
}

func TestNew_SigmaDeterminism(t *testing.T) {
	// (ε=1.0, δ=1e-5, sensitivity=1.0) → σ = sqrt(2·ln(125000)) ≈ 4.8448
	c, err := New(1.0, 1e-5, 1.0, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := float32(4.8448)
	if math.Abs(float64(c.Sigma-want)) > 1e-3 {
		t.Errorf("expected sigma ≈ %v, got %v", want, c.Sigma)
	}
	if c.Sigma <= 0 {
		t.Errorf("expected sigma > 0, got %v", c.Sigma)
	}
}

func TestClip_ScalesToMaxNorm(t *testing.T) {
	c, err := New(1.0, 1e-5, 1.0, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := tensor.NewNamedTensorMap()
	m.Set("t", tensor.Tensor{Shape: tensor.Shape{2}, Data: []float32{3, 4}})

	clipped, report := c.Clip(m)

	got, _ := clipped.Get("t")
	norm := l2Norm(got.Data)
	if math.Abs(float64(norm-1.0)) > 1e-3 {
		t.Errorf("expected clipped norm ≈ 1.0, got %v", norm)
	}
	if report["t"] <= 0 || report["t"] > 1 {
		t.Errorf("expected clip factor in (0, 1], got %v", report["t"])
	}
}

func TestClip_DoesNotScaleUpSmallNorms(t *testing.T) {
	c := NewDefault()

	m := tensor.NewNamedTensorMap()
	m.Set("t", tensor.Tensor{Shape: tensor.Shape{2}, Data: []float32{0.1, 0.1}})

	clipped, report := c.Clip(m)

	got, _ := clipped.Get("t")
	if got.Data[0] != 0.1 || got.Data[1] != 0.1 {
		t.Errorf("expected untouched values for a tensor under max_grad_norm, got %v", got.Data)
	}
	if report["t"] != 1 {
		t.Errorf("expected clip factor 1 for a tensor under max_grad_norm, got %v", report["t"])
	}
}

func TestPrivacySpent_MonotonicInRounds(t *testing.T) {
	c := NewDefault()

	prevEps := float32(0)
	for rounds := uint32(1); rounds <= 20; rounds++ {
		acc := c.PrivacySpent(rounds)
		if acc.EpsilonTotal < prevEps {
			t.Fatalf("expected epsilon_total non-decreasing in T, round %d: %v < %v", rounds, acc.EpsilonTotal, prevEps)
		}
		prevEps = acc.EpsilonTotal
	}
}

func TestPrivacySpent_DeltaTotal(t *testing.T) {
	c := NewDefault()
	acc := c.PrivacySpent(10)

	wantDelta := float32(10)*c.Delta + c.Delta
	if math.Abs(float64(acc.DeltaTotal-wantDelta)) > 1e-9 {
		t.Errorf("expected delta_total %v, got %v", wantDelta, acc.DeltaTotal)
	}
}

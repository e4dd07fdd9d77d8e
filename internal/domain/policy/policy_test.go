package policy

import (
	"errors"
	"testing"

	"github.com/Strob0t/ContextForge/internal/domain"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
		tool   string
		depth  int
		want   Decision
	}{
		{"manual always asks", ManualPolicy(), "read_file", 1, Ask},
		{"auto always allows", AutoApprovePolicy(), "rm", 5, Allow},
		{"allowlist hit", AllowlistPolicy("read_file", "search"), "search", 1, Allow},
		{"allowlist miss", AllowlistPolicy("read_file"), "write_file", 1, Ask},
		{"depth within limit", DepthLimitedPolicy(3), "read_file", 3, Allow},
		{"depth beyond limit", DepthLimitedPolicy(3), "read_file", 4, Ask},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.policy.Evaluate(tc.tool, tc.depth); got != tc.want {
				t.Errorf("Evaluate(%q, %d) = %s, want %s", tc.tool, tc.depth, got, tc.want)
			}
		})
	}
}

func TestEvaluateAllBatch(t *testing.T) {
	p := AllowlistPolicy("read_file")
	if got := p.EvaluateAll([]string{"read_file", "read_file"}, 1); got != Allow {
		t.Errorf("all allowlisted batch = %s, want allow", got)
	}
	if got := p.EvaluateAll([]string{"read_file", "write_file"}, 1); got != Ask {
		t.Errorf("mixed batch = %s, want ask", got)
	}
}

func TestParse(t *testing.T) {
	if p, err := Parse(""); err != nil || p.Kind != Manual {
		t.Errorf("empty string: policy = %+v, err = %v, want manual default", p, err)
	}
	if p, err := Parse("depth_limited"); err != nil || p.MaxAutoDepth != 3 {
		t.Errorf("depth_limited: policy = %+v, err = %v", p, err)
	}
	if _, err := Parse("bogus"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bogus policy: err = %v, want ErrValidation", err)
	}
}

func TestValidate(t *testing.T) {
	if err := (Policy{Kind: DepthLimited}).Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("depth_limited with no depth: err = %v, want ErrValidation", err)
	}
	if err := DepthLimitedPolicy(2).Validate(); err != nil {
		t.Errorf("valid depth_limited: %v", err)
	}
}

// Package policy decides whether model-requested tool calls run
// immediately or wait for user approval.
package policy

import (
	"fmt"

	"github.com/Strob0t/ContextForge/internal/domain"
)

// Kind selects the approval strategy.
type Kind string

const (
	AutoApprove  Kind = "auto_approve"
	Manual       Kind = "manual"
	Allowlist    Kind = "allowlist"
	DepthLimited Kind = "depth_limited"
)

// Decision is the outcome of evaluating one tool call.
type Decision string

const (
	Allow Decision = "allow"
	Ask   Decision = "ask"
)

// Policy configures the approval strategy for a context.
type Policy struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// Allowlist: tools that run without asking.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`

	// DepthLimited: loop depths beyond this always ask.
	MaxAutoDepth int `json:"max_auto_depth,omitempty" yaml:"max_auto_depth,omitempty"`
}

// ManualPolicy asks for every tool call.
func ManualPolicy() Policy { return Policy{Kind: Manual} }

// AutoApprovePolicy runs every tool call without asking.
func AutoApprovePolicy() Policy { return Policy{Kind: AutoApprove} }

// AllowlistPolicy runs only the named tools without asking.
func AllowlistPolicy(tools ...string) Policy { return Policy{Kind: Allowlist, Tools: tools} }

// DepthLimitedPolicy auto-approves until the tool loop reaches maxDepth.
func DepthLimitedPolicy(maxDepth int) Policy {
	return Policy{Kind: DepthLimited, MaxAutoDepth: maxDepth}
}

// Parse maps a config string to a policy with its default parameters.
func Parse(s string) (Policy, error) {
	switch Kind(s) {
	case AutoApprove:
		return AutoApprovePolicy(), nil
	case Manual, "":
		return ManualPolicy(), nil
	case Allowlist:
		return AllowlistPolicy(), nil
	case DepthLimited:
		return DepthLimitedPolicy(3), nil
	default:
		return Policy{}, fmt.Errorf("%w: unknown approval policy %q", domain.ErrValidation, s)
	}
}

// Validate checks the policy parameters.
func (p Policy) Validate() error {
	switch p.Kind {
	case AutoApprove, Manual, Allowlist:
		return nil
	case DepthLimited:
		if p.MaxAutoDepth < 1 {
			return fmt.Errorf("%w: depth_limited policy needs max_auto_depth >= 1", domain.ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown approval policy %q", domain.ErrValidation, p.Kind)
	}
}

// Evaluate decides one tool call at the given loop depth (1-based).
func (p Policy) Evaluate(tool string, depth int) Decision {
	switch p.Kind {
	case AutoApprove:
		return Allow
	case Allowlist:
		for _, t := range p.Tools {
			if t == tool {
				return Allow
			}
		}
		return Ask
	case DepthLimited:
		if depth <= p.MaxAutoDepth {
			return Allow
		}
		return Ask
	default:
		return Ask
	}
}

// EvaluateAll reports whether every tool in the batch may run without
// asking. A single Ask makes the whole batch wait for approval.
func (p Policy) EvaluateAll(tools []string, depth int) Decision {
	for _, tool := range tools {
		if p.Evaluate(tool, depth) == Ask {
			return Ask
		}
	}
	return Allow
}

package permission

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Policy configures the defaults that are legitimately configurable.
// Critical handling is not configurable: it is always Deny.
type Policy struct {
	// MediumDecision is the default verdict for medium-risk operations:
	// DecisionAllow, DecisionAsk (default) or DecisionDeny.
	MediumDecision Decision
}

func DefaultPolicy() Policy {
	return Policy{MediumDecision: DecisionAsk}
}

// Gateway computes verdicts. It holds only read-only policy and the
// user-granted rule store, so one instance is safely shared across
// concurrent sessions.
type Gateway struct {
	policy Policy
	rules  *RuleStore
}

func NewGateway(policy Policy, rules *RuleStore) *Gateway {
	if policy.MediumDecision == 0 {
		policy.MediumDecision = DecisionAsk
	}
	return &Gateway{policy: policy, rules: rules}
}

// Check classifies the request and returns the verdict. The decision
// depends only on (operation kind, computed risk, path boundary) plus any
// user-granted always-allow rules, never on which caller is asking.
func (g *Gateway) Check(req Request) Verdict {
	risk := riskOf(req)
	external := escapesBoundary(req)

	// Critical is an unconditional deny. No confirmation, no rule, no
	// caller can turn it into an allow.
	if risk == RiskCritical {
		return Verdict{
			Decision: DecisionDeny,
			Risk:     risk,
			External: external,
			Reason:   fmt.Sprintf("critical-risk %s is never permitted", req.Kind),
		}
	}

	if external {
		return Verdict{
			Decision: DecisionAsk,
			Risk:     maxRisk(risk, RiskMedium),
			External: true,
			Reason:   fmt.Sprintf("target path %s resolves outside the project boundary", req.TargetPath),
		}
	}

	if g.rules != nil && g.rules.Matches(req) {
		return Verdict{
			Decision: DecisionAllow,
			Risk:     risk,
			Reason:   "granted by always-allow rule",
		}
	}

	switch risk {
	case RiskHigh:
		return Verdict{
			Decision: DecisionAsk,
			Risk:     risk,
			Reason:   fmt.Sprintf("high-risk %s requires confirmation", req.Kind),
		}
	case RiskMedium:
		return Verdict{
			Decision: g.policy.MediumDecision,
			Risk:     risk,
			Reason:   fmt.Sprintf("medium-risk %s: %s by policy", req.Kind, g.policy.MediumDecision),
		}
	default:
		return Verdict{
			Decision: DecisionAllow,
			Risk:     risk,
			Reason:   "low risk",
		}
	}
}

// escapesBoundary reports whether the target path canonicalizes to a
// location outside both the project root and the worktree.
func escapesBoundary(req Request) bool {
	if req.TargetPath == "" {
		return false
	}
	target := req.TargetPath
	if !filepath.IsAbs(target) {
		base := req.WorkingDir
		if base == "" {
			base = req.ProjectRoot
		}
		target = filepath.Join(base, target)
	}
	target = filepath.Clean(target)
	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		target = resolved
	}

	for _, root := range []string{req.ProjectRoot, req.Worktree} {
		if root == "" {
			continue
		}
		root = filepath.Clean(root)
		if resolved, err := filepath.EvalSymlinks(root); err == nil {
			root = resolved
		}
		if target == root || strings.HasPrefix(target, root+string(filepath.Separator)) {
			return false
		}
	}
	return true
}

func maxRisk(a, b Risk) Risk {
	if a > b {
		return a
	}
	return b
}

// Package permission is the risk-classified gateway every tool
// invocation passes through. It is stateless with respect to requests:
// the verdict is a function of the operation kind, the computed risk and
// the path boundary, so interactive and non-interactive callers receive
// identical decisions.
package permission

import "fmt"

type Risk int

const (
	RiskLow Risk = iota + 1
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r Risk) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

type OperationKind string

const (
	OpReadFile  OperationKind = "read_file"
	OpWriteFile OperationKind = "write_file"
	OpEditFile  OperationKind = "edit_file"
	OpBash      OperationKind = "bash"
	OpGitCommit OperationKind = "git_commit"
	OpGitRevert OperationKind = "git_revert"
)

// Request describes one operation to be checked. Risk is computed by the
// gateway, never asserted by the caller.
type Request struct {
	Tool        string
	Kind        OperationKind
	TargetPath  string // file-path operand, empty for pure commands
	Command     string // shell command for OpBash
	ProjectRoot string
	Worktree    string
	WorkingDir  string
}

type Decision int

const (
	DecisionAllow Decision = iota + 1
	DecisionAsk
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionAsk:
		return "ask"
	case DecisionDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// Verdict is the gateway's answer. External marks a target path that
// resolved outside the project root and worktree after canonicalization.
type Verdict struct {
	Decision Decision
	Risk     Risk
	Reason   string
	External bool
}

func (v Verdict) String() string {
	return fmt.Sprintf("%s (risk=%s): %s", v.Decision, v.Risk, v.Reason)
}

// Confirmer resolves an Ask verdict through a human. Implementations
// that have no confirmation channel must return ErrNoConfirmer-style
// failures instead of blocking.
type Confirmer interface {
	Confirm(prompt string) (granted bool, alwaysAllow bool, err error)
}

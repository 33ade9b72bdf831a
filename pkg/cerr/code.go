package cerr

import "net/http"

// Code classifies an error so callers can branch on kind instead of
// matching message strings.
type Code int

const (
	OK                 = Code(0)
	Canceled           = Code(1)
	Unknown            = Code(2)
	InvalidArgument    = Code(3)
	DeadlineExceeded   = Code(4)
	NotFound           = Code(5)
	AlreadyExists      = Code(6)
	PermissionDenied   = Code(7)
	FailedPrecondition = Code(8)
	Internal           = Code(9)
	Unavailable        = Code(10)

	// Domain codes for the orchestration core.
	PlanningFailure      = Code(20)
	ConfirmationRequired = Code(21)
	ToolExecutionFailure = Code(22)
	VerificationFailure  = Code(23)
	RollbackFailure      = Code(24)
	ProjectMismatch      = Code(25)
)

var codeNames = map[Code]string{
	OK:                   "ok",
	Canceled:             "canceled",
	Unknown:              "unknown",
	InvalidArgument:      "invalid_argument",
	DeadlineExceeded:     "deadline_exceeded",
	NotFound:             "not_found",
	AlreadyExists:        "already_exists",
	PermissionDenied:     "permission_denied",
	FailedPrecondition:   "failed_precondition",
	Internal:             "internal",
	Unavailable:          "unavailable",
	PlanningFailure:      "planning_failure",
	ConfirmationRequired: "confirmation_required",
	ToolExecutionFailure: "tool_execution_failure",
	VerificationFailure:  "verification_failure",
	RollbackFailure:      "rollback_failure",
	ProjectMismatch:      "project_mismatch",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}

// HTTPCode maps a Code to an HTTP status for the observability surface.
func (c Code) HTTPCode() int {
	switch c {
	case OK:
		return http.StatusOK
	case Canceled:
		return 499
	case InvalidArgument, FailedPrecondition, ProjectMismatch:
		return http.StatusBadRequest
	case DeadlineExceeded:
		return http.StatusGatewayTimeout
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists:
		return http.StatusConflict
	case PermissionDenied, ConfirmationRequired:
		return http.StatusForbidden
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether an operation failing with this code may be
// retried by the executor.
func (c Code) Retryable() bool {
	switch c {
	case DeadlineExceeded, Unavailable, ToolExecutionFailure:
		return true
	default:
		return false
	}
}

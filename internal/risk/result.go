package risk

import "fmt"

// RejectCode identifies why a rule rejected an intent.
type RejectCode string

const (
	RejectMaxPositionExceeded    RejectCode = "MaxPositionExceeded"
	RejectMaxOpenOrdersExceeded  RejectCode = "MaxOpenOrdersExceeded"
	RejectDailyLossLimitExceeded RejectCode = "DailyLossLimitExceeded"
	RejectOrderQuantityExceeded  RejectCode = "OrderQuantityExceeded"
	RejectOrderQuantityTooSmall  RejectCode = "OrderQuantityTooSmall"
	RejectNotionalValueExceeded  RejectCode = "NotionalValueExceeded"
	RejectSymbolNotAllowed       RejectCode = "SymbolNotAllowed"
	RejectCooldownNotExpired     RejectCode = "CooldownNotExpired"
)

// RejectReason is the structured explanation carried by a rejection.
type RejectReason struct {
	Code    RejectCode
	Rule    string
	Message string
}

// String returns a readable form of the RejectReason.
func (r RejectReason) String() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// CheckResult is the verdict of a risk check. The zero value is not a
// valid verdict; build one with Approved or Rejected.
type CheckResult struct {
	approved bool
	reason   *RejectReason
}

// Approved returns an approving verdict.
func Approved() CheckResult {
	return CheckResult{approved: true}
}

// Rejected returns a rejecting verdict carrying reason.
func Rejected(reason RejectReason) CheckResult {
	return CheckResult{reason: &reason}
}

// IsApproved reports whether the intent passed every rule.
func (r CheckResult) IsApproved() bool {
	return r.approved
}

// Reason returns the rejection reason and true, or false when approved.
func (r CheckResult) Reason() (RejectReason, bool) {
	if r.approved || r.reason == nil {
		return RejectReason{}, false
	}
	return *r.reason, true
}

// String returns a readable form of the CheckResult.
func (r CheckResult) String() string {
	if r.approved {
		return "Approved"
	}
	if r.reason == nil {
		return "Invalid"
	}
	return fmt.Sprintf("Rejected(%s)", r.reason.Code)
}

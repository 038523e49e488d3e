package payments

import (
	"fmt"
	"strings"

	"github.com/warp/payment-reconciler/generic"
)

// =============================================================================
// ISSUE REASONS
// =============================================================================

type IssueReason string

const (
	IssueMissingField          IssueReason = "MISSING_FIELD"
	IssueFieldTooShort         IssueReason = "FIELD_TOO_SHORT"
	IssueFieldTooLong          IssueReason = "FIELD_TOO_LONG"
	IssueInvalidValue          IssueReason = "INVALID_VALUE"
	IssueInvalidLookupValue    IssueReason = "INVALID_LOOKUP_VALUE"
	IssueChecksum              IssueReason = "CHECKSUM"
	IssueUnexpectedPaymentType IssueReason = "UNEXPECTED_PAYMENT_TRANSACTION_TYPE"
	IssueMissingInDB           IssueReason = "MISSING_IN_DB"
	IssueEFTPrenotePending     IssueReason = "EFT_PRENOTE_PENDING"
	IssueEFTPrenoteRejected    IssueReason = "EFT_PRENOTE_REJECTED"

	// IssueCurrentlyBeingProcessed marks a resubmitted composite key whose
	// earlier payment is still moving through the pipeline.
	IssueCurrentlyBeingProcessed IssueReason = "ReceivedPaymentCurrentlyBeingProcessed"
)

// ValidationIssue is one business-rule failure on one field.
type ValidationIssue struct {
	Reason IssueReason `json:"reason"`
	Detail string      `json:"details"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Reason, i.Detail)
}

// =============================================================================
// VALIDATION CONTAINER - accumulated issues for one candidate
// =============================================================================

// ValidationContainer accumulates issues in the order validators ran.
// Validation never stops at the first failure: every issue is kept so a
// single audit record explains everything wrong with a payment.
type ValidationContainer struct {
	Record string            `json:"record_key"`
	Issues []ValidationIssue `json:"validation_issues"`

	// terminal is set once any issue rules out a successful rerun.
	terminal bool
}

func NewValidationContainer(record string) *ValidationContainer {
	return &ValidationContainer{Record: record}
}

func (c *ValidationContainer) Add(reason IssueReason, detail string) {
	c.Issues = append(c.Issues, ValidationIssue{Reason: reason, Detail: detail})
}

// AddTerminal records an issue that no later extract can fix on its own.
func (c *ValidationContainer) AddTerminal(reason IssueReason, detail string) {
	c.terminal = true
	c.Add(reason, detail)
}

func (c *ValidationContainer) HasIssues() bool { return len(c.Issues) > 0 }

// HasTerminalIssues reports whether the payment must end non-restartable.
func (c *ValidationContainer) HasTerminalIssues() bool { return c.terminal }

// HasReason reports whether any issue has the given reason.
func (c *ValidationContainer) HasReason(reason IssueReason) bool {
	for _, issue := range c.Issues {
		if issue.Reason == reason {
			return true
		}
	}
	return false
}

// Reasons returns the distinct reasons, in first-seen order.
func (c *ValidationContainer) Reasons() []IssueReason {
	seen := make(map[IssueReason]bool)
	var reasons []IssueReason
	for _, issue := range c.Issues {
		if !seen[issue.Reason] {
			seen[issue.Reason] = true
			reasons = append(reasons, issue.Reason)
		}
	}
	return reasons
}

// Summary is the human-readable one-line form used in ledger outcomes.
func (c *ValidationContainer) Summary() string {
	parts := make([]string, len(c.Issues))
	for i, issue := range c.Issues {
		parts[i] = issue.String()
	}
	return strings.Join(parts, "; ")
}

// outcomeIssues renders the issues for a ledger outcome payload.
func (c *ValidationContainer) outcomeIssues() []any {
	issues := make([]any, len(c.Issues))
	for i, issue := range c.Issues {
		issues[i] = map[string]any{"reason": string(issue.Reason), "details": issue.Detail}
	}
	return issues
}

// primaryReasons decide which issue names the payment's failure when
// several are present. Anything else falls back to the first issue.
var primaryReasons = []IssueReason{
	IssueUnexpectedPaymentType,
	IssueCurrentlyBeingProcessed,
	IssueMissingInDB,
	IssueEFTPrenoteRejected,
	IssueEFTPrenotePending,
}

// PrimaryReason returns the reason reported for the payment as a whole.
func (c *ValidationContainer) PrimaryReason() IssueReason {
	for _, reason := range primaryReasons {
		if c.HasReason(reason) {
			return reason
		}
	}
	if len(c.Issues) == 0 {
		return ""
	}
	return c.Issues[0].Reason
}

// Outcome builds the state ledger payload for this container.
func (c *ValidationContainer) Outcome(message string) generic.Outcome {
	outcome := generic.Outcome{
		OutcomeMessageKey: message,
		OutcomeRecordKey:  c.Record,
	}
	if c.HasIssues() {
		outcome[OutcomeReasonKey] = string(c.PrimaryReason())
		outcome[OutcomeIssuesKey] = c.outcomeIssues()
	}
	return outcome
}

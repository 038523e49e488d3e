/*
validators.go - Two-phase field validation of payment candidates

PURPOSE:
  Turns a PaymentCandidate into a ValidationContainer. Business-rule
  failures are issues, never Go errors; every rule runs so one audit record
  lists everything wrong with the payment.

PHASES:
  1. Universal (every candidate):
     composite key, tax identifier, claim details, amount, event type,
     then classification. UNKNOWN adds UNEXPECTED_PAYMENT_TRANSACTION_TYPE.
     Universal issues are terminal: no employee, claim or bank linkage.

  2. Conditional (STANDARD only, the one type that disburses money):
     payment method, pay period, payment details, then
       Check:               address line 1, city, state, postal code
       Elec Funds Transfer: routing number (with checksum), account
                            number, account type

FIELD RULE ORDER (per field, stops at the first failure):
  MISSING_FIELD -> FIELD_TOO_SHORT -> FIELD_TOO_LONG -> INVALID_VALUE
  -> INVALID_LOOKUP_VALUE -> CHECKSUM

SEE ALSO:
  - classify.go: Transaction type rules
  - lookup.go: Enumerations used by lookup rules
*/
package payments

import (
	"fmt"
	"strings"

	"github.com/warp/payment-reconciler/generic"
)

// =============================================================================
// FIELD RULE
// =============================================================================

type FieldRule struct {
	Field     string
	Required  bool
	MinLength int
	MaxLength int
	Predicate func(string) bool
	Lookup    LookupKind
	Checksum  func(string) bool
}

// isMissing treats blanks and the "Unknown" sentinel as absent.
func isMissing(value string) bool {
	return value == "" || value == unknownSentinel
}

// Apply runs the rule against value and returns whether it passed.
func (r FieldRule) Apply(value string, lookups *LookupRegistry, c *ValidationContainer) bool {
	value = strings.TrimSpace(value)
	if isMissing(value) {
		if r.Required {
			c.Add(IssueMissingField, r.Field)
			return false
		}
		return true
	}

	switch {
	case r.MinLength > 0 && len(value) < r.MinLength:
		c.Add(IssueFieldTooShort, fmt.Sprintf("%s: %q shorter than %d", r.Field, value, r.MinLength))
	case r.MaxLength > 0 && len(value) > r.MaxLength:
		c.Add(IssueFieldTooLong, fmt.Sprintf("%s: length %d longer than %d", r.Field, len(value), r.MaxLength))
	case r.Predicate != nil && !r.Predicate(value):
		c.Add(IssueInvalidValue, fmt.Sprintf("%s: %q", r.Field, value))
	case r.Lookup != "" && !lookups.Contains(r.Lookup, value):
		c.Add(IssueInvalidLookupValue, fmt.Sprintf("%s: %q is not a valid %s", r.Field, value, r.Lookup))
	case r.Checksum != nil && !r.Checksum(value):
		c.Add(IssueChecksum, fmt.Sprintf("%s: %q", r.Field, value))
	default:
		return true
	}
	return false
}

// =============================================================================
// PREDICATES
// =============================================================================

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsPostalCode accepts 12345, 123456789 and 12345-6789.
func IsPostalCode(s string) bool {
	digits := strings.Replace(s, "-", "", 1)
	if len(digits) != 5 && len(digits) != 9 {
		return false
	}
	if strings.Contains(s, "-") && (len(digits) != 9 || s[5] != '-') {
		return false
	}
	return isDigits(digits)
}

// IsTaxIdentifier accepts nine digits, optionally written 123-45-6789.
func IsTaxIdentifier(s string) bool {
	digits := strings.ReplaceAll(s, "-", "")
	return len(digits) == 9 && isDigits(digits)
}

// IsRoutingNumberChecksumValid applies the ABA check:
// 3(d1+d4+d7) + 7(d2+d5+d8) + (d3+d6+d9) must be divisible by 10.
func IsRoutingNumberChecksumValid(s string) bool {
	if len(s) != 9 || !isDigits(s) {
		return false
	}
	d := func(i int) int { return int(s[i] - '0') }
	sum := 3*(d(0)+d(3)+d(6)) + 7*(d(1)+d(4)+d(7)) + (d(2) + d(5) + d(8))
	return sum%10 == 0
}

func isDecimal(s string) bool {
	_, ok := generic.ParseDecimal(s)
	return ok
}

func isDate(s string) bool {
	_, ok := generic.ParseDate(s)
	return ok
}

// =============================================================================
// RULE SETS
// =============================================================================

var (
	keyRules = []FieldRule{
		{Field: FieldC, Required: true},
		{Field: FieldI, Required: true},
	}

	claimantRules = []FieldRule{
		{Field: FieldTaxIdentifier, Required: true, Predicate: IsTaxIdentifier},
	}

	amountRules = []FieldRule{
		{Field: FieldAmount, Required: true, Predicate: isDecimal},
		{Field: FieldEventType, Required: true},
	}

	standardRules = []FieldRule{
		{Field: FieldPaymentMethod, Required: true, Lookup: LookupPaymentMethod},
		{Field: FieldPeriodStart, Required: true, Predicate: isDate},
		{Field: FieldPeriodEnd, Required: true, Predicate: isDate},
		{Field: FieldPaymentDate, Predicate: isDate},
	}

	checkRules = []FieldRule{
		{Field: FieldAddressLine1, Required: true, MaxLength: 40},
		{Field: FieldAddressLine2, MaxLength: 40},
		{Field: FieldCity, Required: true, MaxLength: 40},
		{Field: FieldState, Required: true, Lookup: LookupState},
		{Field: FieldPostalCode, Required: true, MinLength: 5, MaxLength: 10, Predicate: IsPostalCode},
	}

	achRules = []FieldRule{
		{Field: FieldRoutingNumber, Required: true, MinLength: 9, MaxLength: 9, Predicate: isDigits, Checksum: IsRoutingNumberChecksumValid},
		{Field: FieldAccountNumber, Required: true, MaxLength: 17},
		{Field: FieldAccountType, Required: true, Lookup: LookupAccountType},
	}
)

// =============================================================================
// VALIDATOR
// =============================================================================

type Validator struct {
	Lookups *LookupRegistry
}

func NewValidator(lookups *LookupRegistry) *Validator {
	if lookups == nil {
		lookups = DefaultLookupRegistry()
	}
	return &Validator{Lookups: lookups}
}

// Validate classifies the candidate and fills its ValidationContainer.
// The result depends only on the candidate's fields.
func (v *Validator) Validate(candidate *PaymentCandidate) *ValidationContainer {
	c := NewValidationContainer(candidate.Key.String())
	candidate.Validation = c

	v.validateUniversal(candidate, c)

	candidate.TransactionType = Classify(candidate.ClassificationInput())
	if candidate.TransactionType == TransactionUnknown {
		c.AddTerminal(IssueUnexpectedPaymentType, candidate.ClassificationInput().String())
	}

	if candidate.TransactionType.RequiresDisbursement() {
		v.validateDisbursement(candidate, c)
	}
	return c
}

func (v *Validator) validateUniversal(candidate *PaymentCandidate, c *ValidationContainer) {
	universal := NewValidationContainer(c.Record)
	v.applyRules(candidate.Header, keyRules, universal)
	v.applyRules(candidate.Header, claimantRules, universal)

	if len(candidate.ClaimDetails) == 0 {
		universal.Add(IssueMissingField, StreamClaimDetails)
	} else {
		rule := FieldRule{Field: FieldAbsenceCaseID, Required: true}
		rule.Apply(candidate.ClaimDetails[0].Get(FieldAbsenceCaseID), v.Lookups, universal)
	}

	v.applyRules(candidate.Header, amountRules, universal)

	for _, issue := range universal.Issues {
		c.AddTerminal(issue.Reason, issue.Detail)
	}
}

func (v *Validator) validateDisbursement(candidate *PaymentCandidate, c *ValidationContainer) {
	v.applyRules(candidate.Header, standardRules, c)

	period := candidate.Period()
	if !period.Start.IsZero() && !period.End.IsZero() && !period.IsValid() {
		c.Add(IssueInvalidValue, fmt.Sprintf("%s: ends before it starts %s", FieldPeriodEnd, period))
	}

	if len(candidate.PaymentDetails) == 0 {
		c.Add(IssueMissingField, StreamPaymentDetails)
	}
	for i, record := range candidate.PaymentDetails {
		if _, ok := parseDetail(record); !ok {
			c.Add(IssueInvalidValue, fmt.Sprintf("%s[%d]: period %q - %q amount %q", StreamPaymentDetails, i,
				record.Get(FieldPeriodStart), record.Get(FieldPeriodEnd), record.Get(FieldBalancingAmount)))
		}
	}

	switch candidate.Method() {
	case PaymentMethodCheck:
		v.applyRules(candidate.Header, checkRules, c)
	case PaymentMethodACH:
		v.applyRules(candidate.Header, achRules, c)
	default:
		// A method the lookup table accepts but nothing can disburse.
		// Missing or unlisted values are already reported by standardRules.
		value := strings.TrimSpace(candidate.Header.Get(FieldPaymentMethod))
		if !isMissing(value) && v.Lookups.Contains(LookupPaymentMethod, value) {
			c.Add(IssueInvalidLookupValue, fmt.Sprintf("%s: %q cannot be disbursed", FieldPaymentMethod, value))
		}
	}
}

func (v *Validator) applyRules(record RawRecord, rules []FieldRule, c *ValidationContainer) {
	for _, rule := range rules {
		rule.Apply(record.Get(rule.Field), v.Lookups, c)
	}
}

package payments

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/payment-reconciler/generic"
)

// =============================================================================
// RAW RECORDS
// =============================================================================

// RawRecord is one extract row: field name -> raw value.
type RawRecord map[string]string

// Get returns the trimmed value of field, "" when absent.
func (r RawRecord) Get(field string) string {
	return strings.TrimSpace(r[field])
}

// ExtractStreams are the four record streams of one batch, fully read.
type ExtractStreams struct {
	Header            []RawRecord
	PaymentDetails    []RawRecord
	ClaimDetails      []RawRecord
	RequestedAbsences []RawRecord
}

// =============================================================================
// PAYMENT CANDIDATE - Transient aggregate of one payment's records
// =============================================================================

type PaymentCandidate struct {
	Key               CompositeKey
	Header            RawRecord
	PaymentDetails    []RawRecord
	ClaimDetails      []RawRecord
	RequestedAbsences []RawRecord

	// Set by the validator.
	TransactionType TransactionType
	Validation      *ValidationContainer
}

func (c *PaymentCandidate) Field(name string) string { return c.Header.Get(name) }

func (c *PaymentCandidate) TaxIdentifier() string {
	return strings.ReplaceAll(c.Field(FieldTaxIdentifier), "-", "")
}

// AbsenceCaseID comes from the first claim-detail record.
func (c *PaymentCandidate) AbsenceCaseID() string {
	if len(c.ClaimDetails) == 0 {
		return ""
	}
	return c.ClaimDetails[0].Get(FieldAbsenceCaseID)
}

func (c *PaymentCandidate) LeaveRequestID() string { return c.Field(FieldLeaveRequestID) }

func (c *PaymentCandidate) AbsenceReason() string {
	if len(c.RequestedAbsences) == 0 {
		return ""
	}
	return c.RequestedAbsences[0].Get(FieldAbsenceReason)
}

func (c *PaymentCandidate) Amount() (decimal.Decimal, bool) {
	return generic.ParseDecimal(c.Field(FieldAmount))
}

func (c *PaymentCandidate) Method() PaymentMethod {
	return ParsePaymentMethod(c.Field(FieldPaymentMethod))
}

// Period is the header's pay period; unset bounds stay zero.
func (c *PaymentCandidate) Period() generic.Period {
	start, _ := generic.ParseDate(c.Field(FieldPeriodStart))
	end, _ := generic.ParseDate(c.Field(FieldPeriodEnd))
	return generic.Period{Start: start, End: end}
}

func (c *PaymentCandidate) PaymentDate() generic.TimePoint {
	date, _ := generic.ParseDate(c.Field(FieldPaymentDate))
	return date
}

// IsAdhoc reports a manually triggered payment, exempt from the weekly cap.
func (c *PaymentCandidate) IsAdhoc() bool {
	return strings.HasPrefix(strings.ToLower(c.Field(FieldAmalgamation)), "adhoc")
}

func (c *PaymentCandidate) ClassificationInput() ClassificationInput {
	return ClassificationInput{
		Amount:          c.Field(FieldAmount),
		EventType:       c.Field(FieldEventType),
		EventReason:     c.Field(FieldEventReason),
		PayeeIdentifier: c.Field(FieldPayeeIdentifier),
	}
}

// Details parses the payment-detail records. Rows with unparseable dates or
// amounts are skipped; the validator reports them.
func (c *PaymentCandidate) Details() []PaymentDetail {
	var details []PaymentDetail
	for _, record := range c.PaymentDetails {
		detail, ok := parseDetail(record)
		if ok {
			details = append(details, detail)
		}
	}
	return details
}

func parseDetail(record RawRecord) (PaymentDetail, bool) {
	start, okStart := generic.ParseDate(record.Get(FieldPeriodStart))
	end, okEnd := generic.ParseDate(record.Get(FieldPeriodEnd))
	amount, okAmount := generic.ParseDecimal(record.Get(FieldBalancingAmount))
	if !okStart || !okEnd || !okAmount {
		return PaymentDetail{}, false
	}
	period := generic.Period{Start: start, End: end}
	if !period.IsValid() {
		return PaymentDetail{}, false
	}
	return PaymentDetail{Period: period, Amount: amount}, true
}

// =============================================================================
// CORRELATOR
// =============================================================================

// CorrelationResult is the correlator's output.
type CorrelationResult struct {
	Candidates []*PaymentCandidate

	// DuplicateKeys lists header keys seen more than once. The first
	// occurrence is kept.
	DuplicateKeys []CompositeKey
}

// Correlate joins the four streams into one candidate per distinct header
// key, in header order. Detail and claim records join on (PECLASSID,
// PEINDEXID); requested absences join on the header's leave request id.
// It performs no I/O and never fails: missing records surface at validation.
func Correlate(streams ExtractStreams) CorrelationResult {
	details := groupByParent(streams.PaymentDetails)
	claims := groupByParent(streams.ClaimDetails)

	absences := make(map[string][]RawRecord)
	for _, record := range streams.RequestedAbsences {
		id := record.Get(FieldRequestedLeaveID)
		if id != "" {
			absences[id] = append(absences[id], record)
		}
	}

	var result CorrelationResult
	seen := make(map[CompositeKey]bool)
	for _, header := range streams.Header {
		key := CompositeKey{C: header.Get(FieldC), I: header.Get(FieldI)}
		if seen[key] {
			result.DuplicateKeys = append(result.DuplicateKeys, key)
			continue
		}
		seen[key] = true

		candidate := &PaymentCandidate{
			Key:            key,
			Header:         header,
			PaymentDetails: details[key],
			ClaimDetails:   claims[key],
		}
		if leaveID := header.Get(FieldLeaveRequestID); leaveID != "" {
			candidate.RequestedAbsences = absences[leaveID]
		}
		result.Candidates = append(result.Candidates, candidate)
	}
	return result
}

func groupByParent(records []RawRecord) map[CompositeKey][]RawRecord {
	grouped := make(map[CompositeKey][]RawRecord)
	for _, record := range records {
		key := CompositeKey{C: record.Get(FieldParentC), I: record.Get(FieldParentI)}
		if key.IsZero() {
			continue
		}
		grouped[key] = append(grouped[key], record)
	}
	return grouped
}

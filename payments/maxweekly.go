/*
maxweekly.go - Maximum weekly benefit enforcement across claims

PURPOSE:
  An employee may have several claims paying for the same week. The
  statutory cap applies to the employee, not the claim. This file decides,
  per payment currently being post-processed, whether it fits.

ALGORITHM:
  1. Decompose payments into pay period rows (one per detail line; a payment
     without details becomes one synthetic row over its own period when that
     period fits in one week). A current payment that cannot be decomposed
     fails without joining any window.
  2. Group rows by window; resolve each window's cap from the table.
  3. Walk windows in ascending order. Within a window apply, in order:
       a. prior payments (already staged, sent or paid) and overpayment
          offsets (negative)
       b. current rows of payments not yet unpayable, by payment id
       c. current rows of payments already unpayable from an earlier window;
          these are checked against the remaining headroom and reported
          when they exceed it, but never consume it
  4. A current row of claim C is payable when
       consumption of every other claim in the window + row <= cap
     where consumption of a claim = prior + offsets + current payable,
     floored at zero. Rows sharing a claim do not compete with each other.
  5. A payment with any unpayable row fails. It is not discarded: it moves
     on with a MaxWeeklyBenefitMessage explaining the overage.

EXEMPTIONS:
  Adhoc payments and non-STANDARD payments never participate.

ORDERING:
  The evaluation order decides which payment is payable when totals would
  tie, so it is part of the contract, not an optimization.

SEE ALSO:
  - maxweekly_table.go: Effective-dated caps
  - postprocess.go: Ledger transitions driven by this evaluation
*/
package payments

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/payment-reconciler/generic"
)

// =============================================================================
// PAY PERIOD GROUP
// =============================================================================

type contributionSource int

const (
	sourcePrevious contributionSource = iota
	sourceOverpayment
	sourceCurrent
)

type payPeriodRow struct {
	PaymentID string
	ClaimID   string
	Claim     string // label for audit messages
	Period    generic.Period
	Amount    decimal.Decimal
	Source    contributionSource
}

// ClaimContribution is one claim's share of a pay period group.
type ClaimContribution struct {
	ClaimID          string
	Claim            string
	Previous         decimal.Decimal
	Overpayment      decimal.Decimal
	CurrentPayable   decimal.Decimal
	CurrentUnpayable decimal.Decimal
}

// Consumed is what this claim uses of the window's cap.
func (c *ClaimContribution) Consumed() decimal.Decimal {
	return decimal.Max(decimal.Zero, c.Previous.Add(c.Overpayment).Add(c.CurrentPayable))
}

// PayPeriodGroup is one 7-day window and everything paid into it.
type PayPeriodGroup struct {
	Period  generic.Period
	Maximum decimal.Decimal
	Claims  map[string]*ClaimContribution

	claimOrder []string
	rows       []payPeriodRow
}

func newPayPeriodGroup(period generic.Period, maximum decimal.Decimal) *PayPeriodGroup {
	return &PayPeriodGroup{Period: period, Maximum: maximum, Claims: make(map[string]*ClaimContribution)}
}

func (g *PayPeriodGroup) claim(row payPeriodRow) *ClaimContribution {
	c, ok := g.Claims[row.ClaimID]
	if !ok {
		c = &ClaimContribution{ClaimID: row.ClaimID, Claim: row.Claim}
		g.Claims[row.ClaimID] = c
		g.claimOrder = append(g.claimOrder, row.ClaimID)
	}
	return c
}

// consumedExcept sums the consumption of every claim but claimID.
func (g *PayPeriodGroup) consumedExcept(claimID string) decimal.Decimal {
	total := decimal.Zero
	for id, c := range g.Claims {
		if id != claimID {
			total = total.Add(c.Consumed())
		}
	}
	return total
}

// overlappingClaims labels the other claims consuming part of the window.
func (g *PayPeriodGroup) overlappingClaims(claimID string) []string {
	var labels []string
	for _, id := range g.claimOrder {
		c := g.Claims[id]
		if id != claimID && c.Consumed().IsPositive() {
			labels = append(labels, c.Claim)
		}
	}
	return labels
}

// AmountAlreadyPaid is the window total from prior payments and offsets.
func (g *PayPeriodGroup) AmountAlreadyPaid() decimal.Decimal {
	total := decimal.Zero
	for _, c := range g.Claims {
		total = total.Add(decimal.Max(decimal.Zero, c.Previous.Add(c.Overpayment)))
	}
	return total
}

// AmountAvailable is the headroom left in the window for the employee.
func (g *PayPeriodGroup) AmountAvailable() decimal.Decimal {
	consumed := g.consumedExcept("")
	return decimal.Max(decimal.Zero, g.Maximum.Sub(consumed))
}

func (g *PayPeriodGroup) totals() (previous, payable, unpayable decimal.Decimal) {
	previous, payable, unpayable = decimal.Zero, decimal.Zero, decimal.Zero
	for _, c := range g.Claims {
		previous = previous.Add(c.Previous).Add(c.Overpayment)
		payable = payable.Add(c.CurrentPayable)
		unpayable = unpayable.Add(c.CurrentUnpayable)
	}
	return previous, payable, unpayable
}

// =============================================================================
// EVALUATION
// =============================================================================

// CapInput is one employee's payments for one evaluation.
type CapInput struct {
	Current      []*Payment // being post-processed now
	Prior        []*Payment // already counted as paid
	Overpayments []*Payment // offsets
}

// CapResult is the decision for one current payment.
type CapResult struct {
	PaymentID string
	Exceeded  bool
	Message   *MaxWeeklyBenefitMessage // nil unless Exceeded
}

type CapEvaluation struct {
	Groups  []*PayPeriodGroup // ascending by window
	Results map[string]*CapResult
}

// MaxWeeklyBenefitCheck evaluates the cap for one employee at a time.
type MaxWeeklyBenefitCheck struct {
	Table MaxWeeklyBenefitTable
}

// violation records why one row of a payment did not fit.
type violation struct {
	group       *PayPeriodGroup
	alreadyPaid decimal.Decimal
	available   decimal.Decimal
	overage     decimal.Decimal
	overlapping []string
}

// Evaluate decides every current payment. It only fails when the cap
// table has no entry for a window (ErrNoMaxWeeklyAmount).
func (m *MaxWeeklyBenefitCheck) Evaluate(in CapInput) (*CapEvaluation, error) {
	eval := &CapEvaluation{Results: make(map[string]*CapResult)}
	byID := make(map[string]*Payment)

	var rows []payPeriodRow
	for _, p := range in.Current {
		result := &CapResult{PaymentID: p.ID}
		eval.Results[p.ID] = result
		if !participates(p) {
			continue
		}
		pRows, ok := decompose(p, sourceCurrent)
		if !ok {
			result.Exceeded = true
			result.Message = newMessage(p)
			result.Message.Unattributed = true
			continue
		}
		byID[p.ID] = p
		rows = append(rows, pRows...)
	}
	// Prior payments and offsets that cannot be attributed to a window are
	// left out.
	for _, p := range in.Prior {
		if participates(p) {
			pRows, _ := decompose(p, sourcePrevious)
			rows = append(rows, pRows...)
		}
	}
	for _, p := range in.Overpayments {
		if p.TransactionType == TransactionOverpayment {
			pRows, _ := decompose(p, sourceOverpayment)
			rows = append(rows, pRows...)
		}
	}

	groups, err := m.group(rows)
	if err != nil {
		return nil, err
	}
	eval.Groups = groups

	unpayable := make(map[string]bool)
	violations := make(map[string][]violation)
	for _, g := range groups {
		failed := evaluateGroup(g, unpayable, violations)
		for id := range failed {
			unpayable[id] = true
		}
	}

	for id := range unpayable {
		result := eval.Results[id]
		result.Exceeded = true
		result.Message = buildMessage(byID[id], violations[id])
	}
	return eval, nil
}

func participates(p *Payment) bool {
	return !p.IsAdhoc && p.TransactionType == TransactionStandard
}

// decompose splits p into pay period rows. It reports false when p has no
// details and its period does not fit in a single week.
func decompose(p *Payment, source contributionSource) ([]payPeriodRow, bool) {
	label := p.AbsenceCaseID
	if label == "" {
		label = p.ClaimID
	}
	row := func(period generic.Period, amount decimal.Decimal) payPeriodRow {
		if source == sourceOverpayment {
			amount = amount.Abs().Neg()
		}
		return payPeriodRow{PaymentID: p.ID, ClaimID: p.ClaimID, Claim: label, Period: period, Amount: amount, Source: source}
	}

	if len(p.Details) == 0 {
		if !p.Period.WithinOneWeek() {
			return nil, false
		}
		return []payPeriodRow{row(p.Period, p.Amount)}, true
	}
	rows := make([]payPeriodRow, 0, len(p.Details))
	for _, d := range p.Details {
		rows = append(rows, row(d.Period, d.Amount))
	}
	return rows, true
}

func (m *MaxWeeklyBenefitCheck) group(rows []payPeriodRow) ([]*PayPeriodGroup, error) {
	byKey := make(map[string]*PayPeriodGroup)
	var groups []*PayPeriodGroup
	for _, r := range rows {
		g, ok := byKey[r.Period.Key()]
		if !ok {
			maximum, err := m.Table.MaxWeeklyAmount(r.Period.Start)
			if err != nil {
				return nil, err
			}
			g = newPayPeriodGroup(r.Period, maximum)
			byKey[r.Period.Key()] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, r)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].Period, groups[j].Period
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.End.Before(b.End)
	})
	return groups, nil
}

// evaluateGroup applies one window's rows and returns the payments that
// became unpayable in it.
func evaluateGroup(g *PayPeriodGroup, unpayable map[string]bool, violations map[string][]violation) map[string]bool {
	var fresh, known []payPeriodRow
	for _, r := range g.rows {
		switch {
		case r.Source == sourcePrevious:
			g.claim(r).Previous = g.claim(r).Previous.Add(r.Amount)
		case r.Source == sourceOverpayment:
			g.claim(r).Overpayment = g.claim(r).Overpayment.Add(r.Amount)
		case unpayable[r.PaymentID]:
			known = append(known, r)
		default:
			fresh = append(fresh, r)
		}
	}
	byPayment := func(rows []payPeriodRow) {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].PaymentID < rows[j].PaymentID })
	}
	byPayment(fresh)
	byPayment(known)

	failed := make(map[string]bool)
	for _, r := range fresh {
		c := g.claim(r)
		if failed[r.PaymentID] {
			c.CurrentUnpayable = c.CurrentUnpayable.Add(r.Amount)
			continue
		}

		others := g.consumedExcept(r.ClaimID)
		if others.Add(r.Amount).LessThanOrEqual(g.Maximum) {
			c.CurrentPayable = c.CurrentPayable.Add(r.Amount)
			continue
		}

		failed[r.PaymentID] = true
		c.CurrentUnpayable = c.CurrentUnpayable.Add(r.Amount)
		violations[r.PaymentID] = append(violations[r.PaymentID], newViolation(g, r, others))
	}

	// Known-unpayable rows never consume headroom but are still checked
	// against what is left, so every offending window is reported.
	reported := make(map[string]bool)
	for _, r := range known {
		c := g.claim(r)
		c.CurrentUnpayable = c.CurrentUnpayable.Add(r.Amount)
		if reported[r.PaymentID] {
			continue
		}
		others := g.consumedExcept(r.ClaimID)
		if others.Add(r.Amount).GreaterThan(g.Maximum) {
			reported[r.PaymentID] = true
			violations[r.PaymentID] = append(violations[r.PaymentID], newViolation(g, r, others))
		}
	}
	return failed
}

func newViolation(g *PayPeriodGroup, r payPeriodRow, others decimal.Decimal) violation {
	return violation{
		group:       g,
		alreadyPaid: others,
		available:   decimal.Max(decimal.Zero, g.Maximum.Sub(others)),
		overage:     others.Add(r.Amount).Sub(g.Maximum),
		overlapping: g.overlappingClaims(r.ClaimID),
	}
}

// =============================================================================
// AUDIT MESSAGE
// =============================================================================

// MaxWeeklyBenefitMessage explains why a payment exceeded the cap.
type MaxWeeklyBenefitMessage struct {
	PaymentID         string
	Claim             string
	OverlappingClaims []string
	PayPeriods        []PayPeriodExplanation

	// Unattributed is set when the payment has no pay period details and
	// spans more than one week, so no window could be checked.
	Unattributed bool
}

// PayPeriodExplanation is one offending window from the payment's view.
type PayPeriodExplanation struct {
	Period                 generic.Period
	MaximumAmount          decimal.Decimal
	AmountAlreadyPaid      decimal.Decimal // counted against this payment
	AmountAvailable        decimal.Decimal
	PreviousPayments       decimal.Decimal
	CurrentPayablePayments decimal.Decimal
	UnpayablePayments      decimal.Decimal
	Overage                decimal.Decimal
}

func newMessage(p *Payment) *MaxWeeklyBenefitMessage {
	msg := &MaxWeeklyBenefitMessage{PaymentID: p.ID, Claim: p.AbsenceCaseID}
	if msg.Claim == "" {
		msg.Claim = p.ClaimID
	}
	return msg
}

func buildMessage(p *Payment, violations []violation) *MaxWeeklyBenefitMessage {
	msg := newMessage(p)

	seen := make(map[string]bool)
	for _, v := range violations {
		for _, label := range v.overlapping {
			if !seen[label] {
				seen[label] = true
				msg.OverlappingClaims = append(msg.OverlappingClaims, label)
			}
		}
		previous, payable, unpayable := v.group.totals()
		msg.PayPeriods = append(msg.PayPeriods, PayPeriodExplanation{
			Period:                 v.group.Period,
			MaximumAmount:          v.group.Maximum,
			AmountAlreadyPaid:      v.alreadyPaid,
			AmountAvailable:        v.available,
			PreviousPayments:       previous,
			CurrentPayablePayments: payable,
			UnpayablePayments:      unpayable,
			Overage:                v.overage,
		})
	}
	sort.Strings(msg.OverlappingClaims)
	return msg
}

// String is the human-readable form attached to the audit report.
func (m *MaxWeeklyBenefitMessage) String() string {
	if m.Unattributed {
		return fmt.Sprintf("Payment for claim %s has no pay period details and spans more than one week;"+
			" it cannot be checked against the maximum weekly benefit.", m.Claim)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Payment for claim %s exceeds the maximum weekly benefit", m.Claim)
	if len(m.OverlappingClaims) > 0 {
		fmt.Fprintf(&b, "; overlaps with claim(s) %s", strings.Join(m.OverlappingClaims, ", "))
	}
	b.WriteString(".")
	for _, p := range m.PayPeriods {
		fmt.Fprintf(&b, "\nPay period %s - %s: maximum %s, already paid %s, available %s;"+
			" previous payments %s, current payable payments %s, unpayable payments %s; overage %s.",
			p.Period.Start, p.Period.End,
			p.MaximumAmount.StringFixed(2), p.AmountAlreadyPaid.StringFixed(2), p.AmountAvailable.StringFixed(2),
			p.PreviousPayments.StringFixed(2), p.CurrentPayablePayments.StringFixed(2),
			p.UnpayablePayments.StringFixed(2), p.Overage.StringFixed(2))
	}
	return b.String()
}

// Outcome renders the message as a JSON-friendly ledger payload.
func (m *MaxWeeklyBenefitMessage) Outcome() map[string]any {
	periods := make([]any, len(m.PayPeriods))
	for i, p := range m.PayPeriods {
		periods[i] = map[string]any{
			"start":                    p.Period.Start.String(),
			"end":                      p.Period.End.String(),
			"maximum_amount":           p.MaximumAmount.StringFixed(2),
			"amount_already_paid":      p.AmountAlreadyPaid.StringFixed(2),
			"amount_available":         p.AmountAvailable.StringFixed(2),
			"previous_payments":        p.PreviousPayments.StringFixed(2),
			"current_payable_payments": p.CurrentPayablePayments.StringFixed(2),
			"unpayable_payments":       p.UnpayablePayments.StringFixed(2),
			"overage":                  p.Overage.StringFixed(2),
		}
	}
	overlapping := make([]any, len(m.OverlappingClaims))
	for i, label := range m.OverlappingClaims {
		overlapping[i] = label
	}
	return map[string]any{
		"payment_id":         m.PaymentID,
		"claim":              m.Claim,
		"overlapping_claims": overlapping,
		"pay_periods":        periods,
		"unattributed":       m.Unattributed,
	}
}

package payments

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/payment-reconciler/generic"
	"go.uber.org/zap"
)

// =============================================================================
// POST-PROCESSING - Maximum weekly benefit check, one employee at a time
// =============================================================================

// PostProcessReport counts post-processing outcomes.
type PostProcessReport struct {
	Employees   int `json:"employees"`
	Payments    int `json:"payments"`
	Staged      int `json:"staged"`
	CapExceeded int `json:"cap_exceeded"`
}

// PostProcess moves every payment waiting in POST_PROCESSING_CHECK to
// STAGED_FOR_PAYMENT_AUDIT_REPORT_SAMPLING. Each employee is evaluated in
// its own transaction, in employee id order, so one employee's payments
// never interleave with another's.
func (s *Service) PostProcess(ctx context.Context) (*PostProcessReport, error) {
	report := &PostProcessReport{}

	refs, err := s.ledger.EntitiesInState(ctx, EntityPayment, FlowProcessing, StatePostProcessingCheck)
	if err != nil {
		return nil, fmt.Errorf("list payments awaiting post-processing: %w", err)
	}

	byEmployee := make(map[string][]*Payment)
	for _, ref := range refs {
		payment, err := s.repo.GetPayment(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		byEmployee[payment.EmployeeID] = append(byEmployee[payment.EmployeeID], payment)
	}

	employees := make([]string, 0, len(byEmployee))
	for id := range byEmployee {
		employees = append(employees, id)
	}
	sort.Strings(employees)

	for _, employeeID := range employees {
		current := byEmployee[employeeID]
		err := s.withinTx(ctx, func(tx Repository, ledger generic.StateLedger) error {
			return s.postProcessEmployee(ctx, tx, ledger, employeeID, current, report)
		})
		if err != nil {
			return report, fmt.Errorf("post-process employee %s: %w", employeeID, err)
		}
		report.Employees++
	}
	return report, nil
}

func (s *Service) postProcessEmployee(ctx context.Context, tx Repository, ledger generic.StateLedger, employeeID string, current []*Payment, report *PostProcessReport) error {
	input := CapInput{Current: current}

	isCurrent := make(map[string]bool, len(current))
	for _, p := range current {
		isCurrent[p.ID] = true
	}

	others, err := tx.ListPaymentsByEmployee(ctx, employeeID)
	if err != nil {
		return fmt.Errorf("list employee payments: %w", err)
	}
	for i := range others {
		p := &others[i]
		if isCurrent[p.ID] {
			continue
		}
		entry, err := ledger.Current(ctx, p.Ref(), FlowProcessing)
		if err != nil {
			return err
		}
		switch {
		case entry == nil:
		case entry.State == StateProcessedOverpayment:
			input.Overpayments = append(input.Overpayments, p)
		case priorPaymentStates[entry.State] && !entry.Outcome.Bool(OutcomeCapExceededKey):
			input.Prior = append(input.Prior, p)
		}
	}

	eval, err := s.maxWeekly.Evaluate(input)
	if err != nil {
		return err
	}

	for _, p := range current {
		result := eval.Results[p.ID]
		outcome := generic.Outcome{
			OutcomeMessageKey:     "Maximum weekly benefit check passed",
			OutcomeCapExceededKey: result.Exceeded,
		}
		if result.Exceeded {
			outcome[OutcomeMessageKey] = result.Message.String()
			outcome[OutcomeCapDetailsKey] = result.Message.Outcome()
			report.CapExceeded++
		}

		entry, err := ledger.Append(ctx, p.Ref(), FlowProcessing, StateStagedForAudit, outcome)
		if err != nil {
			return err
		}
		if _, err := emitWriteback(ctx, ledger, entry); err != nil {
			return err
		}
		report.Payments++
		report.Staged++

		s.logger.Debug("payment post-processed",
			zap.String("payment", p.ID),
			zap.String("employee", employeeID),
			zap.Bool("cap_exceeded", result.Exceeded),
		)
	}
	return nil
}

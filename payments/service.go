package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/payment-reconciler/generic"
	"go.uber.org/zap"
)

// DefaultPrenoteWaitingPeriod is how long a prenote sent to the bank stays
// pending before the account is trusted.
const DefaultPrenoteWaitingPeriod = 5 * 24 * time.Hour

// Options configure a Service. Zero values fall back to defaults.
type Options struct {
	Validator            *Validator
	MaxWeekly            MaxWeeklyBenefitTable
	// PrenoteWaitingPeriod defaults to DefaultPrenoteWaitingPeriod when nil.
	// Zero approves a sent prenote on the next pass.
	PrenoteWaitingPeriod *time.Duration
	Logger               *zap.Logger

	// Now and NewID are replaceable for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

// Service runs the pipeline steps against one repository.
type Service struct {
	repo          TxRepository
	ledger        *generic.DefaultStateLedger
	validator     *Validator
	maxWeekly     *MaxWeeklyBenefitCheck
	waitingPeriod time.Duration
	logger        *zap.Logger
	now           func() time.Time
	newID         func() string
}

func NewService(repo TxRepository, opts Options) *Service {
	s := &Service{
		repo:          repo,
		validator:     opts.Validator,
		waitingPeriod: DefaultPrenoteWaitingPeriod,
		logger:        opts.Logger,
		now:           opts.Now,
		newID:         opts.NewID,
	}
	if s.validator == nil {
		s.validator = NewValidator(nil)
	}
	if opts.MaxWeekly == nil {
		opts.MaxWeekly = NewEffectiveDatedTable(DefaultMaxWeeklyBenefitAmounts())
	}
	s.maxWeekly = &MaxWeeklyBenefitCheck{Table: opts.MaxWeekly}
	if opts.PrenoteWaitingPeriod != nil {
		s.waitingPeriod = *opts.PrenoteWaitingPeriod
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}

	s.ledger = generic.NewStateLedger(repo)
	s.ledger.Now = s.now
	s.ledger.NewID = s.newID
	return s
}

// Ledger exposes the state ledger for read access.
func (s *Service) Ledger() generic.StateLedger { return s.ledger }

// Repository exposes the underlying repository.
func (s *Service) Repository() TxRepository { return s.repo }

// withinTx runs fn with a repository and ledger bound to one transaction.
func (s *Service) withinTx(ctx context.Context, fn func(tx Repository, ledger generic.StateLedger) error) error {
	return s.repo.WithinTx(ctx, func(tx Repository) error {
		return fn(tx, s.ledger.WithStore(tx))
	})
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// RegisterEmployee stores a claimant so payments can resolve them by tax id.
func (s *Service) RegisterEmployee(ctx context.Context, employee *Employee) error {
	if employee.TaxIdentifier == "" {
		return fmt.Errorf("register employee: missing tax identifier")
	}
	if employee.ID == "" {
		employee.ID = s.newID()
	}
	if employee.CreatedAt.IsZero() {
		employee.CreatedAt = s.now().UTC()
	}
	return s.repo.SaveEmployee(ctx, employee)
}

// RegisterClaim stores a claim so payments can resolve it by case id.
func (s *Service) RegisterClaim(ctx context.Context, claim *Claim) error {
	if claim.AbsenceCaseID == "" {
		return fmt.Errorf("register claim: missing absence case id")
	}
	if claim.ID == "" {
		claim.ID = s.newID()
	}
	if claim.CreatedAt.IsZero() {
		claim.CreatedAt = s.now().UTC()
	}
	return s.repo.SaveClaim(ctx, claim)
}

// PaymentHistory is a payment with both of its flows.
type PaymentHistory struct {
	Payment    *Payment
	Processing []generic.StateLogEntry
	Writeback  []generic.StateLogEntry
}

func (s *Service) PaymentHistory(ctx context.Context, id string) (*PaymentHistory, error) {
	payment, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	processing, err := s.ledger.History(ctx, payment.Ref(), FlowProcessing)
	if err != nil {
		return nil, err
	}
	writeback, err := s.ledger.History(ctx, payment.Ref(), FlowWriteback)
	if err != nil {
		return nil, err
	}
	return &PaymentHistory{Payment: payment, Processing: processing, Writeback: writeback}, nil
}

package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrNotOwner signals the intent belongs to a different user.
	ErrNotOwner = errors.New("payment: intent not owned by caller")
	// ErrInvalidAmount signals a non-positive amount.
	ErrInvalidAmount = errors.New("payment: amount must be positive")
)

// Store is the repository surface the service needs.
type Store interface {
	Create(ctx context.Context, reference, userID string, amount decimal.Decimal) (Intent, error)
	GetByReference(ctx context.Context, reference string) (Intent, error)
	AttachTransaction(ctx context.Context, reference, oracleTxID, rawStatus string) (Intent, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Intent, error)
}

// Service implements payment initiation and client-side confirmation.
type Service struct {
	store Store
	log   *zap.Logger
}

// NewService wires the payment service.
func NewService(store Store, log *zap.Logger) *Service {
	return &Service{store: store, log: log}
}

// NewReference generates the externally-visible payment token: hex without
// separators so wallet deep links survive URL mangling.
func NewReference() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Initiate creates a pending intent and hands the reference to the client.
func (s *Service) Initiate(ctx context.Context, userID string, amount decimal.Decimal) (Intent, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Intent{}, ErrInvalidAmount
	}

	intent, err := s.store.Create(ctx, NewReference(), userID, amount)
	if err != nil {
		// A collision on a fresh UUID-derived reference means a retry bug
		// upstream, not bad luck; one more attempt covers it.
		if errors.Is(err, ErrDuplicateReference) {
			intent, err = s.store.Create(ctx, NewReference(), userID, amount)
		}
		if err != nil {
			return Intent{}, err
		}
	}

	s.log.Info("payment intent initiated",
		zap.String("reference", intent.Reference),
		zap.String("user_id", userID),
		zap.String("amount", amount.String()))
	return intent, nil
}

// ConfirmParams is the client callback payload after the wallet flow.
type ConfirmParams struct {
	Reference     string
	TransactionID string
	RawStatus     string
}

// Confirm attaches the oracle transaction id reported by the client. The
// worker verifies the status against the oracle afterwards; the response only
// tells the client whether its deposit is already confirmed or still pending.
func (s *Service) Confirm(ctx context.Context, userID string, params ConfirmParams) (Intent, error) {
	if params.Reference == "" || params.TransactionID == "" {
		return Intent{}, fmt.Errorf("payment: reference and transaction_id required")
	}

	existing, err := s.store.GetByReference(ctx, params.Reference)
	if err != nil {
		return Intent{}, err
	}
	if existing.UserID != userID {
		return Intent{}, ErrNotOwner
	}
	if existing.Terminal() {
		return existing, nil
	}

	intent, err := s.store.AttachTransaction(ctx, params.Reference, params.TransactionID, params.RawStatus)
	if err != nil {
		return Intent{}, err
	}

	s.log.Info("payment transaction attached",
		zap.String("reference", intent.Reference),
		zap.String("oracle_tx_id", params.TransactionID),
		zap.String("raw_status", params.RawStatus))
	return intent, nil
}

// Get returns the intent when owned by userID.
func (s *Service) Get(ctx context.Context, userID, reference string) (Intent, error) {
	intent, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return Intent{}, err
	}
	if intent.UserID != userID {
		return Intent{}, ErrNotOwner
	}
	return intent, nil
}

package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrymomot/billsdk/pkg/logger"
	"github.com/dmitrymomot/billsdk/pkg/payment"
	"github.com/dmitrymomot/billsdk/pkg/storage"
)

// RefundParams refunds part or all of a succeeded payment.
// Zero Amount refunds whatever has not been refunded yet.
type RefundParams struct {
	PaymentID string
	Amount    int64
	Reason    string
}

// CreateRefund refunds a succeeded payment through the gateway. Success
// raises RefundedAmount on the original row and appends a refunded refund
// row; failure appends a failed refund row and returns ErrRefundFailed.
func (s *Service) CreateRefund(ctx context.Context, params RefundParams) (*Payment, error) {
	if params.Amount < 0 {
		return nil, ErrInvalidRefundAmount
	}

	var (
		refund   *Payment
		declined error
	)
	err := s.store.Transaction(ctx, func(tx storage.Adapter) error {
		orig, err := findPayment(ctx, tx, params.PaymentID)
		if err != nil {
			return err
		}
		remaining := orig.Refundable()
		if remaining <= 0 {
			return fmt.Errorf("%w: %s is %s %s", ErrPaymentNotRefundable, orig.ID, orig.Type, orig.Status)
		}
		amount := params.Amount
		if amount == 0 {
			amount = remaining
		}
		if amount > remaining {
			return fmt.Errorf("%w: %d exceeds refundable %d", ErrInvalidRefundAmount, amount, remaining)
		}

		now := s.now(ctx, orig.CustomerID)
		res := s.payments.Refund(ctx, payment.RefundParams{
			PaymentID:         orig.ID,
			ProviderPaymentID: orig.ProviderPaymentID,
			Amount:            amount,
			Currency:          orig.Currency,
			Reason:            params.Reason,
			Full:              amount == orig.Amount,
		})

		refund = &Payment{
			CustomerID:        orig.CustomerID,
			SubscriptionID:    orig.SubscriptionID,
			Type:              PaymentRefund,
			Status:            PaymentRefunded,
			Amount:            amount,
			Currency:          orig.Currency,
			ProviderPaymentID: res.ProviderRefundID,
			RefundOf:          orig.ID,
			Reason:            params.Reason,
		}
		if res.Status != payment.RefundSucceeded {
			refund.Status = PaymentFailed
			declined = errors.Join(ErrRefundFailed, res.Err)
			return insertPayment(ctx, tx, refund, now)
		}

		_, err = tx.Update(ctx, ModelPayment, byID(orig.ID), storage.Record{
			"refunded_amount": orig.RefundedAmount + amount,
			"updated_at":      now,
		})
		if err != nil {
			return fmt.Errorf("failed to update refunded payment: %w", err)
		}
		return insertPayment(ctx, tx, refund, now)
	})
	if err != nil {
		return nil, err
	}
	if declined != nil {
		s.log.WarnContext(ctx, "refund declined", logger.PaymentID(params.PaymentID), logger.Error(declined))
		return refund, declined
	}

	s.log.InfoContext(ctx, "payment refunded",
		logger.PaymentID(params.PaymentID),
		logger.Amount(refund.Amount, refund.Currency),
	)
	return refund, nil
}

// ListOptions paginates ListPayments. Zero Limit returns everything.
type ListOptions struct {
	Limit  int
	Offset int
}

// ListPayments returns the customer's ledger, newest first.
func (s *Service) ListPayments(ctx context.Context, customerID string, opts ListOptions) ([]Payment, error) {
	cust, err := findCustomerByExternalID(ctx, s.store, customerID)
	if err != nil {
		return nil, err
	}
	recs, err := s.store.FindMany(ctx, ModelPayment, storage.Query{
		Where:  []storage.Where{storage.Eq("customer_id", cust.ID)},
		SortBy: &storage.SortBy{Field: "created_at", Direction: storage.SortDesc},
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	out := make([]Payment, len(recs))
	for i, r := range recs {
		out[i] = paymentFromRecord(r)
	}
	return out, nil
}

// GetPayment returns a ledger row by id.
func (s *Service) GetPayment(ctx context.Context, id string) (*Payment, error) {
	p, err := findPayment(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func findPayment(ctx context.Context, db storage.Adapter, id string) (Payment, error) {
	if id == "" {
		return Payment{}, ErrPaymentNotFound
	}
	rec, err := db.FindOne(ctx, ModelPayment, byID(id))
	if errors.Is(err, storage.ErrNotFound) {
		return Payment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("failed to load payment: %w", err)
	}
	return paymentFromRecord(rec), nil
}

/*
Package service exposes the billing engine's operations: single-payment
CRUD, bulk payment distribution, and the multi-record bulk outflow.

PURPOSE:
  Services wire the pure calculators in billing/ to persistence, the
  notification hook and the view cache. They own the uniform
  {success, message, data} result shape the action layer returns.

THIS FILE (notify.go):
  The SMS hook. Delivery is somebody else's problem - this engine only
  builds summary strings and hands them to a Notifier, best-effort. A
  failed or panicking notification NEVER affects a financial write: the
  dispatch runs in its own goroutine and only logs.

SEE ALSO:
  - payments.go: PaymentService
  - outflow.go: BulkOutflowOrchestrator
*/
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/godown/billing-engine/billing"
)

// =============================================================================
// NOTIFIER
// =============================================================================

// Notifier delivers an SMS. Implementations live outside this module.
type Notifier interface {
	SendSMS(ctx context.Context, phone, message string) error
}

// LogNotifier is the default Notifier: it logs instead of sending.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) SendSMS(_ context.Context, phone, message string) error {
	n.Logger.Info("sms (not sent)", zap.String("phone", phone), zap.String("message", message))
	return nil
}

// notify dispatches fire-and-forget. The goroutine gets its own context:
// the request finishing must not cancel the send, and the send failing
// must not surface to the caller.
func notify(n Notifier, logger *zap.Logger, phone, message string) {
	if n == nil || phone == "" {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("notifier panicked", zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.SendSMS(ctx, phone, message); err != nil {
			logger.Warn("notification failed", zap.String("phone", phone), zap.Error(err))
		}
	}()
}

// =============================================================================
// SUMMARY BUILDERS
// =============================================================================

// paymentSummary is the SMS body for a single payment.
func paymentSummary(c *billing.Customer, p billing.Payment) string {
	return fmt.Sprintf("Dear %s, payment of %s (%s) received on %s. Thank you.",
		c.Name, p.Amount.StringFixed(2), p.Type, p.Date.Format("02-Jan-2006"))
}

// outflowSummary is the single aggregate SMS for a bulk outflow - one
// message for the whole batch, not one per record.
func outflowSummary(c *billing.Customer, commodity string, bags int, rent, paid decimal.Decimal, records int) string {
	msg := fmt.Sprintf("Dear %s, %d bags of %s withdrawn across %d lot(s). Rent billed: %s.",
		c.Name, bags, commodity, records, rent.StringFixed(2))
	if paid.IsPositive() {
		msg += fmt.Sprintf(" Payment received: %s.", paid.StringFixed(2))
	}
	return msg
}

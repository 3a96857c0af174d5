package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/modulebilling/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/modulebilling/internal/payment/domain"
	"go.uber.org/zap"
)

// Compensate refunds a captured charge that no longer backs an active
// subscription and appends the refund to the ledger. It reports whether the
// gateway accepted the refund.
func Compensate(
	ctx context.Context,
	gateway paymentdomain.Gateway,
	ledger ledgerdomain.Ledger,
	log *zap.Logger,
	base ledgerdomain.BillingTransaction,
	subscriptionID *snowflake.ID,
	externalRef string,
) bool {
	refundKey := "refund:" + base.IdempotencyKey
	refundTxn := base
	refundTxn.ID = 0
	refundTxn.SubscriptionID = subscriptionID
	refundTxn.Type = ledgerdomain.TransactionTypeRefund
	refundTxn.IdempotencyKey = refundKey
	refundTxn.ProcessedAt = time.Time{}

	resp, err := gateway.RefundCharge(ctx, paymentdomain.RefundRequest{
		ExternalTransactionRef: externalRef,
		Amount:                 base.TotalAmount,
		Currency:               base.Currency,
		IdempotencyKey:         refundKey,
	})
	if err != nil {
		refundTxn.Status = ledgerdomain.TransactionStatusFailed
		refundTxn.ExternalTransactionRef = externalRef
		refundTxn.FailureReason = paymentdomain.FailureReason(err)
	} else {
		refundTxn.Status = ledgerdomain.TransactionStatusRefunded
		refundTxn.ExternalTransactionRef = resp.ExternalRefundRef
	}

	if _, appendErr := ledger.Append(ctx, nil, refundTxn); appendErr != nil {
		log.Error("failed to record refund",
			zap.String("external_transaction_ref", externalRef),
			zap.Error(appendErr),
		)
	}
	return err == nil
}

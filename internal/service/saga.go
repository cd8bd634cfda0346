package service

import (
	"context"
	"time"

	"sales-service/internal/apperror"
	"sales-service/internal/models"
	"sales-service/internal/util"

	"go.uber.org/zap"
)

// Step names, also used as metric labels
const (
	stepBillingProfile      = "billing_profile"
	stepResolvePrice        = "resolve_price"
	stepAttachPaymentMethod = "attach_payment_method"
	stepUpdateCustomer      = "update_customer"
	stepCreatePaymentIntent = "create_payment_intent"
	stepCreateSubscription  = "create_subscription"
	stepPersistRecord       = "persist_record"
	stepAppendHistory       = "append_history"
	stepDispatchDelivery    = "dispatch_delivery"
)

// purchase carries the state threaded through the saga steps
type purchase struct {
	kind    string
	userID  string
	request *PurchaseRequest

	recordID  string
	historyID string

	profile      *models.BillingProfile
	cart         *ResolvedCart
	txID         string
	clientSecret string
	status       string
	recorded     bool
	warnings     []string
}

// sagaStep is one stage of a purchase. Steps marked bestEffort run after the
// provider has charged: their failures become warnings and never abort.
type sagaStep struct {
	name       string
	bestEffort bool
	run        func(ctx context.Context, p *purchase) error
}

// runSaga executes steps strictly in order. It returns the first failure of a
// committing step; nothing after it runs.
func (o *PurchaseOrchestrator) runSaga(ctx context.Context, p *purchase, steps []sagaStep) error {
	charged := false
	for _, step := range steps {
		stepCtx := ctx
		if step.bestEffort {
			// the charge is done; a caller hanging up must not cut the tail short
			stepCtx = context.WithoutCancel(ctx)
			charged = true
		}

		stepCtx, span := util.StartSpan(stepCtx, "Saga."+step.name)
		start := time.Now()
		err := step.run(stepCtx, p)
		util.SagaStepLatency.WithLabelValues(p.kind, step.name).Observe(time.Since(start).Seconds())
		util.EndSpan(span, err)

		if err == nil {
			continue
		}

		if !step.bestEffort {
			util.PurchasesFailedTotal.WithLabelValues(p.kind, step.name).Inc()
			fields := []zap.Field{
				zap.String("kind", p.kind),
				zap.String("step", step.name),
				zap.String("user_id", p.userID),
				zap.String("phase", "pre_charge"),
				zap.Error(err),
			}
			if apperror.IsClientFacing(err) {
				o.logger.Info("Purchase rejected", fields...)
			} else {
				o.logger.Warn("Purchase aborted", fields...)
			}
			return err
		}

		util.SagaPartialFailuresTotal.WithLabelValues(p.kind, step.name).Inc()
		o.logger.Error("Purchase step failed after charge",
			zap.String("kind", p.kind),
			zap.String("step", step.name),
			zap.String("user_id", p.userID),
			zap.String("record_id", p.recordID),
			zap.String("tx_id", p.txID),
			zap.String("phase", "post_charge"),
			zap.String("error_kind", string(apperror.KindOf(err))),
			zap.Error(err))
		p.warnings = append(p.warnings, apperror.PublicMessage(err))
	}

	if charged && len(p.warnings) > 0 {
		o.logger.Warn("Purchase completed with warnings",
			zap.String("kind", p.kind),
			zap.String("record_id", p.recordID),
			zap.Strings("warnings", p.warnings))
	}
	return nil
}

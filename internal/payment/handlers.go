package payment

import (
	"context"
	"log"
	"time"

	"github.com/multiplehats/jobboard-starter-sub000/internal/catalog"
	"github.com/multiplehats/jobboard-starter-sub000/internal/listing"
)

const defaultPostingDays = 30

// RegisterDefaultHandlers subscribes the stock side effects: publish the
// purchased listings on payment.succeeded, pull them back on
// payment.refunded.
func RegisterDefaultHandlers(reg *Registry, ls listing.Service, cat *catalog.Catalog) {
	reg.On(EventPaymentSucceeded, PublishOnPaymentSucceeded(ls, cat))
	reg.On(EventPaymentRefunded, UnpublishOnPaymentRefunded(ls))
}

// PublishOnPaymentSucceeded publishes every job on the paid order. The loop
// is best-effort: the payment already happened, so one listing's failure is
// logged and must not block the rest.
func PublishOnPaymentSucceeded(ls listing.Service, cat *catalog.Catalog) Handler {
	return func(ctx context.Context, ec *EventContext) error {
		jobIDs := ec.Order.Metadata.Strings("jobIds")
		upsells := ec.Order.Metadata.Strings("upsells")
		if len(jobIDs) == 0 {
			log.Printf("[lifecycle] order=%s paid but has no jobIds metadata, nothing to publish", ec.Order.ID)
			return nil
		}

		days := postingDays(cat, ec)
		completed := time.Now().UTC()
		if ec.Order.CompletedAt != nil {
			completed = *ec.Order.CompletedAt
		}
		expiresAt := completed.Add(time.Duration(days) * 24 * time.Hour)

		for _, jobID := range jobIDs {
			err := ls.Publish(ctx, jobID, listing.PublishParams{
				ExpiresAt:  expiresAt,
				Upsells:    upsells,
				PaymentID:  ec.Payment.ID,
				PaidAmount: ec.Payment.Amount,
			})
			if err != nil {
				log.Printf("[lifecycle] order=%s publish job=%s failed: %v", ec.Order.ID, jobID, err)
				continue
			}
			log.Printf("[lifecycle] order=%s published job=%s expires=%s", ec.Order.ID, jobID, expiresAt.Format(time.RFC3339))
		}
		return nil
	}
}

// UnpublishOnPaymentRefunded reverts every job on the refunded order to
// draft, best-effort per job like the publish loop.
func UnpublishOnPaymentRefunded(ls listing.Service) Handler {
	return func(ctx context.Context, ec *EventContext) error {
		jobIDs := ec.Order.Metadata.Strings("jobIds")
		if len(jobIDs) == 0 {
			log.Printf("[lifecycle] order=%s refunded but has no jobIds metadata, nothing to unpublish", ec.Order.ID)
			return nil
		}
		for _, jobID := range jobIDs {
			if err := ls.Unpublish(ctx, jobID); err != nil {
				log.Printf("[lifecycle] order=%s unpublish job=%s failed: %v", ec.Order.ID, jobID, err)
				continue
			}
			log.Printf("[lifecycle] order=%s unpublished job=%s", ec.Order.ID, jobID)
		}
		return nil
	}
}

// postingDays reads the publication duration from the job-posting product on
// the order, falling back to the stock 30 days.
func postingDays(cat *catalog.Catalog, ec *EventContext) int {
	for _, it := range ec.Items {
		p, ok := cat.Product(it.ProductID)
		if !ok || p.Type != catalog.ProductTypeJobPosting {
			continue
		}
		if days, err := cat.Duration(it.ProductID); err == nil && days > 0 {
			return days
		}
	}
	log.Printf("[lifecycle] order=%s has no job posting product with a duration, using %d days", ec.Order.ID, defaultPostingDays)
	return defaultPostingDays
}

package store

import (
	"context"
	"fmt"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

// InsertDelivery records a webhook delivery, deduplicating on delivery_id.
// inserted=false means the provider redelivered something already seen.
func (q Queries) InsertDelivery(ctx context.Context, d *model.WebhookDelivery) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (delivery_id, event_type, repository, status, details)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (delivery_id) DO NOTHING`,
		d.DeliveryID, d.EventType, d.Repository, d.Status, d.Details)
	if err != nil {
		return false, fmt.Errorf("insert delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert delivery: %w", err)
	}
	return n > 0, nil
}

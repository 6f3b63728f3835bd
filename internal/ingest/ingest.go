// Package ingest turns normalized CI events into durable pipeline work.
//
// IngestEvent is the single entry point the webhook handlers call. It is
// transactional: the event row, the delivery dedup record, and the
// orchestrator job either all land or none do, so a crash between
// webhook receipt and job pickup can never lose or double-run an event.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/metrics"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/store"
)

// Result reports what ingestion did with a delivery.
type Result struct {
	EventID       string `json:"event_id"`
	CorrelationID string `json:"correlation_id"`
	// IsNew is false when the idempotency key was already stored.
	IsNew bool `json:"is_new"`
	// Deduped is true when the provider redelivered a known delivery_id;
	// nothing was enqueued.
	Deduped bool `json:"deduped"`
}

// Service ingests normalized events.
type Service struct {
	store   *store.Store
	metrics *metrics.Metrics
	log     *zap.Logger
}

func New(st *store.Store, m *metrics.Metrics, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, metrics: m, log: log}
}

// IngestEvent records a normalized event and enqueues the orchestrator
// job that will process it, all in one transaction. Duplicate deliveries
// and duplicate idempotency keys are absorbed without enqueueing.
func (s *Service) IngestEvent(ctx context.Context, ev *model.NormalizedPipelineEvent, deliveryID string) (*Result, error) {
	if err := ev.Validate(); err != nil {
		return nil, model.NewStageError("ingest", model.ClassIngestion, err)
	}
	if strings.TrimSpace(deliveryID) == "" {
		return nil, model.NewStageError("ingest", model.ClassIngestion,
			fmt.Errorf("delivery id is required"))
	}

	res := &Result{CorrelationID: ulid.Make().String()}
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		stored, inserted, err := tx.InsertEvent(ctx, &model.PipelineEvent{
			IdempotencyKey: ev.IdempotencyKey(),
			Provider:       ev.Provider,
			Repo:           ev.Repo,
			CommitSHA:      ev.CommitSHA,
			Branch:         ev.Branch,
			RunID:          ev.RunID,
			JobID:          ev.JobID,
			Attempt:        ev.Attempt,
			Stage:          ev.Stage,
			FailureType:    ev.FailureType,
			RawPayload:     ev.RawPayload,
			CorrelationID:  res.CorrelationID,
		})
		if err != nil {
			return err
		}
		res.EventID = stored.ID
		res.IsNew = inserted
		if !inserted {
			res.CorrelationID = stored.CorrelationID
		}

		delivered, err := tx.InsertDelivery(ctx, &model.WebhookDelivery{
			DeliveryID: deliveryID,
			EventType:  ev.Provider + ":" + ev.Conclusion,
			Repository: ev.Repo,
			Status:     "received",
			Details:    ev.IdempotencyKey(),
		})
		if err != nil {
			return err
		}
		if !delivered {
			// Redelivery of a delivery already absorbed; the original
			// delivery enqueued the job.
			res.Deduped = true
			return nil
		}
		if !res.IsNew {
			// New delivery_id but a known idempotency key: the provider
			// retried the same CI outcome under a fresh delivery. The
			// first event owns the run.
			res.Deduped = true
			return nil
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		if err := tx.EnqueueJob(ctx, &store.Job{
			Queue:   store.QueuePipeline,
			Task:    store.TaskProcessEvent,
			EventID: stored.ID,
			Payload: payload,
		}); err != nil {
			return err
		}
		return tx.UpdateEventStatus(ctx, stored.ID, model.EventDispatched)
	})
	if err != nil {
		return nil, err
	}

	if res.Deduped {
		s.metrics.WebhookDeduped.Inc()
		s.log.Info("webhook deduped",
			zap.String("delivery_id", deliveryID),
			zap.String("idempotency_key", ev.IdempotencyKey()),
			zap.String("event_id", res.EventID))
		return res, nil
	}
	s.log.Info("event ingested",
		zap.String("event_id", res.EventID),
		zap.String("correlation_id", res.CorrelationID),
		zap.String("provider", ev.Provider),
		zap.String("repo", ev.Repo),
		zap.String("conclusion", ev.Conclusion))
	return res, nil
}

// Package worker provides async audit processing from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-logistics/kestrel/internal/domain"
	"github.com/opensource-logistics/kestrel/internal/rules"
)

// Worker consumes audit requests from the bus and runs them through the
// rule engine, publishing results back out.
type Worker struct {
	bus    domain.EventBus
	engine *rules.Engine
	log    *slog.Logger

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async audit worker.
func NewWorker(bus domain.EventBus, engine *rules.Engine, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: engine,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the audit request topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicAuditRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.log.Info("audit worker started", "topic", domain.TopicAuditRequested)
	return nil
}

// AuditRequest is the payload on the audit request topic. Either an
// explicit shipment list or All for a full sweep.
type AuditRequest struct {
	ShipmentIDs []int64 `json:"shipmentIds,omitempty"`
	All         bool    `json:"all,omitempty"`
	TraceID     string  `json:"traceId,omitempty"`
}

// BatchCompleted is the payload published when a requested batch
// finishes.
type BatchCompleted struct {
	TraceID       string              `json:"traceId,omitempty"`
	Audited       int                 `json:"audited"`
	Failed        int                 `json:"failed"`
	TotalSavings  float64             `json:"totalSavings"`
	Entries       []domain.BatchEntry `json:"entries"`
	DurationMilli int64               `json:"durationMs"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req AuditRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.log.Error("failed to parse audit request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	w.log.Debug("processing audit request",
		"trace_id", traceID,
		"shipments", len(req.ShipmentIDs),
		"all", req.All,
	)

	var entries []domain.BatchEntry
	if req.All {
		var err error
		entries, err = w.engine.AuditAll(ctx)
		if err != nil {
			w.log.Error("full audit sweep failed",
				"trace_id", traceID,
				"error", err,
			)
			return err
		}
	} else {
		entries = w.engine.AuditBatch(ctx, req.ShipmentIDs)
	}

	completed := BatchCompleted{
		TraceID:       traceID,
		Entries:       entries,
		DurationMilli: time.Since(start).Milliseconds(),
	}

	for _, entry := range entries {
		if entry.Error != "" {
			completed.Failed++
			continue
		}
		completed.Audited++
		completed.TotalSavings += entry.Result.TotalPotentialSavings

		// Every exception found gets its own event for downstream
		// review tooling.
		for _, ex := range entry.Result.Exceptions {
			payload, _ := json.Marshal(ex)
			if err := w.bus.Publish(ctx, domain.TopicAuditException, payload); err != nil {
				w.log.Error("failed to publish exception event",
					"shipment_id", entry.ShipmentID,
					"error", err,
				)
			}
		}
	}

	resultPayload, _ := json.Marshal(completed)
	if err := w.bus.Publish(ctx, domain.TopicAuditCompleted, resultPayload); err != nil {
		w.log.Error("failed to publish batch completion",
			"trace_id", traceID,
			"error", err,
		)
	}

	w.log.Info("audit request processed",
		"trace_id", traceID,
		"audited", completed.Audited,
		"failed", completed.Failed,
		"total_savings", completed.TotalSavings,
		"duration_ms", completed.DurationMilli,
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.log.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.log.Info("audit worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

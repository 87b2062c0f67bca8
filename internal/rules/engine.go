package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-logistics/kestrel/internal/domain"
	"github.com/opensource-logistics/kestrel/internal/repository"
)

// Engine runs the audit rule set against shipments and persists the
// exceptions it finds. Audits are append-only: re-auditing a shipment
// writes a fresh set of exception rows rather than replacing old ones.
type Engine struct {
	repo  domain.Repository
	cfg   domain.AuditConfig
	rules []Rule
	log   *slog.Logger
}

func NewEngine(repo domain.Repository, cfg domain.AuditConfig, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		repo:  repo,
		cfg:   cfg,
		rules: AllRules(cfg),
		log:   log,
	}
}

// AuditShipment loads a shipment with its lane and latest invoice, runs
// every rule, saves each resulting exception, and marks the shipment's
// status when anything fired.
func (e *Engine) AuditShipment(ctx context.Context, shipmentID int64) (*domain.AuditResult, error) {
	if shipmentID <= 0 {
		return nil, fmt.Errorf("%w: shipment id must be positive", repository.ErrInvalidInput)
	}

	rec, err := e.repo.GetShipmentRecord(ctx, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("load shipment %d: %w", shipmentID, err)
	}
	if rec.Invoice != nil {
		count, err := e.repo.CountDuplicateInvoices(ctx, rec.TrackingNumber, rec.Invoice.ID)
		if err != nil {
			return nil, fmt.Errorf("count duplicate invoices for %s: %w", rec.TrackingNumber, err)
		}
		rec.DuplicateInvoices = count
	}

	var exceptions []*domain.AuditException
	for _, rule := range e.rules {
		exceptions = append(exceptions, rule.Evaluate(rec)...)
	}

	var total float64
	for _, ex := range exceptions {
		if err := e.repo.SaveException(ctx, ex); err != nil {
			return nil, fmt.Errorf("save %s exception: %w", ex.Type, err)
		}
		total += ex.PotentialSavings
	}

	if len(exceptions) > 0 {
		if err := e.repo.UpdateShipmentStatus(ctx, shipmentID, domain.ShipmentException); err != nil {
			return nil, fmt.Errorf("update shipment %d status: %w", shipmentID, err)
		}
	}

	e.log.Debug("shipment audited",
		"shipment_id", shipmentID,
		"tracking", rec.TrackingNumber,
		"exceptions", len(exceptions),
		"potential_savings", round2(total))

	return &domain.AuditResult{
		ShipmentID:            shipmentID,
		Tracking:              rec.TrackingNumber,
		ExceptionsFound:       len(exceptions),
		Exceptions:            exceptions,
		TotalPotentialSavings: round2(total),
		AuditTimestamp:        time.Now().UTC(),
	}, nil
}

// AuditBatch audits each shipment concurrently under a bounded worker
// pool. The returned slice is index-aligned with ids; a failed audit
// records its error in the entry instead of aborting the batch.
func (e *Engine) AuditBatch(ctx context.Context, ids []int64) []domain.BatchEntry {
	entries := make([]domain.BatchEntry, len(ids))

	workers := e.cfg.MaxBatchWorkers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(idx int, shipmentID int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := e.AuditShipment(ctx, shipmentID)
			if err != nil {
				entries[idx] = domain.BatchEntry{ShipmentID: shipmentID, Error: err.Error()}
				return
			}
			entries[idx] = domain.BatchEntry{ShipmentID: shipmentID, Result: res}
		}(i, id)
	}
	wg.Wait()

	return entries
}

// AuditAll audits every shipment currently stored, in id order.
func (e *Engine) AuditAll(ctx context.Context) ([]domain.BatchEntry, error) {
	ids, err := e.repo.ListShipmentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	return e.AuditBatch(ctx, ids), nil
}

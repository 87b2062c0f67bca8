package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-logistics/kestrel/internal/bus"
	"github.com/opensource-logistics/kestrel/internal/domain"
	"github.com/opensource-logistics/kestrel/internal/repository"
	"github.com/opensource-logistics/kestrel/internal/rules"
)

func newTestEngine(t *testing.T) (*rules.Engine, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-worker-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return rules.NewEngine(repo, domain.DefaultAuditConfig(), nil), repo
}

var seedSeq int

// seedOverbilled stores a shipment whose invoice overbills the weight, so
// an audit always finds exactly one exception.
func seedOverbilled(t *testing.T, repo domain.Repository) int64 {
	t.Helper()
	ctx := context.Background()
	seedSeq++
	tracking := fmt.Sprintf("TRK-W%d", seedSeq)

	lane := &domain.Lane{Origin: "LAX", Destination: "SEA", CarrierCode: "ODFL", BaseRate: 500}
	if err := repo.SaveLane(ctx, lane); err != nil {
		t.Fatalf("SaveLane failed: %v", err)
	}

	s := &domain.Shipment{
		LaneID:         lane.ID,
		TrackingNumber: tracking,
		Weight:         100,
		Status:         domain.ShipmentDelivered,
		CreatedAt:      time.Now().UTC(),
	}
	if err := repo.SaveShipment(ctx, s); err != nil {
		t.Fatalf("SaveShipment failed: %v", err)
	}

	inv := &domain.Invoice{
		ShipmentID:    s.ID,
		InvoiceNumber: "INV-" + tracking,
		BilledWeight:  140,
		BilledAmount:  500,
		InvoiceDate:   time.Now().UTC(),
		DueDate:       time.Now().UTC().AddDate(0, 0, 30),
	}
	if err := repo.SaveInvoice(ctx, inv); err != nil {
		t.Fatalf("SaveInvoice failed: %v", err)
	}

	return s.ID
}

func TestWorkerProcessesBatch(t *testing.T) {
	engine, repo := newTestEngine(t)
	shipmentID := seedOverbilled(t, repo)

	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, engine, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	ctx := context.Background()

	completedCh := make(chan BatchCompleted, 1)
	eventBus.Subscribe(ctx, domain.TopicAuditCompleted, func(ctx context.Context, msg *domain.Message) error {
		var completed BatchCompleted
		if err := json.Unmarshal(msg.Payload, &completed); err != nil {
			return err
		}
		select {
		case completedCh <- completed:
		default:
		}
		return nil
	})

	exceptionCh := make(chan *domain.AuditException, 10)
	eventBus.Subscribe(ctx, domain.TopicAuditException, func(ctx context.Context, msg *domain.Message) error {
		var ex domain.AuditException
		if err := json.Unmarshal(msg.Payload, &ex); err != nil {
			return err
		}
		select {
		case exceptionCh <- &ex:
		default:
		}
		return nil
	})

	time.Sleep(10 * time.Millisecond)

	req := AuditRequest{ShipmentIDs: []int64{shipmentID}, TraceID: "trace-1"}
	payload, _ := json.Marshal(req)
	if err := eventBus.Publish(ctx, domain.TopicAuditRequested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case completed := <-completedCh:
		if completed.TraceID != "trace-1" {
			t.Errorf("expected trace-1, got %s", completed.TraceID)
		}
		if completed.Audited != 1 || completed.Failed != 0 {
			t.Errorf("expected 1 audited, 0 failed, got %d/%d", completed.Audited, completed.Failed)
		}
		if completed.TotalSavings != 200 {
			t.Errorf("expected total savings 200, got %.2f", completed.TotalSavings)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for batch completion")
	}

	select {
	case ex := <-exceptionCh:
		if ex.Type != domain.ExceptionWeightDiscrepancy {
			t.Errorf("expected weight_discrepancy event, got %s", ex.Type)
		}
		if ex.ShipmentID != shipmentID {
			t.Errorf("expected shipment %d, got %d", shipmentID, ex.ShipmentID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for exception event")
	}
}

func TestWorkerFullSweep(t *testing.T) {
	engine, repo := newTestEngine(t)
	seedOverbilled(t, repo)
	seedOverbilled(t, repo)

	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, engine, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	ctx := context.Background()

	completedCh := make(chan BatchCompleted, 1)
	eventBus.Subscribe(ctx, domain.TopicAuditCompleted, func(ctx context.Context, msg *domain.Message) error {
		var completed BatchCompleted
		if err := json.Unmarshal(msg.Payload, &completed); err != nil {
			return err
		}
		select {
		case completedCh <- completed:
		default:
		}
		return nil
	})

	time.Sleep(10 * time.Millisecond)

	payload, _ := json.Marshal(AuditRequest{All: true})
	if err := eventBus.Publish(ctx, domain.TopicAuditRequested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case completed := <-completedCh:
		if completed.Audited != 2 {
			t.Errorf("expected 2 audited shipments, got %d", completed.Audited)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sweep completion")
	}
}

func TestWorkerStats(t *testing.T) {
	engine, _ := newTestEngine(t)

	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, engine, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
	}
	if len(stats.Topics) != 1 || stats.Topics[0] != domain.TopicAuditRequested {
		t.Errorf("unexpected topics: %v", stats.Topics)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if w.GetStats().SubscriptionCount != 0 {
		t.Error("expected no subscriptions after stop")
	}
}

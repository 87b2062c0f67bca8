// Seed tool for populating Kestrel with realistic demo data.
//
// Usage:
//   go run cmd/seed/main.go -db ./kestrel.db -shipments 50 -audit
//
// This tool:
//  1. Creates shipping lanes between major US cities
//  2. Creates shipments spread over the last 30 days, most billed
//     correctly and roughly one in five with a deliberate carrier error
//  3. Optionally runs a full audit sweep over the seeded shipments
//  4. Optionally rebuilds the daily summary table
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/opensource-logistics/kestrel/internal/cache"
	"github.com/opensource-logistics/kestrel/internal/domain"
	"github.com/opensource-logistics/kestrel/internal/metrics"
	"github.com/opensource-logistics/kestrel/internal/repository"
	"github.com/opensource-logistics/kestrel/internal/rules"
)

var carriers = []string{"FXFE", "UPGF", "RDWY", "CNWY", "ODFL"}

var cities = []string{
	"New York", "Los Angeles", "Chicago", "Houston", "Phoenix",
	"Philadelphia", "San Antonio", "San Diego", "Dallas", "San Jose",
	"Austin", "Jacksonville", "Fort Worth", "Columbus", "Charlotte",
}

// billing error modes injected into seeded invoices
const (
	errNone = iota
	errOverbilledWeight
	errLateDelivery
	errRateAbuse
	errDuplicateInvoice
	errFuelSurcharge
)

func main() {
	dbPath := flag.String("db", "./kestrel.db", "Path to the SQLite database")
	laneCount := flag.Int("lanes", 20, "Number of shipping lanes to create")
	shipmentCount := flag.Int("shipments", 50, "Number of shipments to create")
	runAudit := flag.Bool("audit", false, "Run a full audit sweep after seeding")
	runSummaries := flag.Bool("summaries", false, "Rebuild daily summaries after seeding")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible data")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	rng := rand.New(rand.NewSource(*seed))

	fmt.Println("Kestrel Database Seeder")
	fmt.Println("=======================")
	fmt.Printf("\nDatabase:  %s\n", *dbPath)
	fmt.Printf("Lanes:     %d\n", *laneCount)
	fmt.Printf("Shipments: %d\n", *shipmentCount)
	fmt.Printf("Seed:      %d\n\n", *seed)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: *dbPath,
	})
	if err != nil {
		fmt.Printf("ERROR: could not open database: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx := context.Background()

	lanes, err := seedLanes(ctx, repo, rng, *laneCount)
	if err != nil {
		fmt.Printf("ERROR: seeding lanes: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created %d shipping lanes\n", len(lanes))

	created, errored, err := seedShipments(ctx, repo, rng, lanes, *shipmentCount)
	if err != nil {
		fmt.Printf("ERROR: seeding shipments: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created %d shipments (%d with deliberate billing errors)\n", created, errored)

	if *runAudit {
		engine := rules.NewEngine(repo, domain.DefaultAuditConfig(), logger)
		entries, err := engine.AuditAll(ctx)
		if err != nil {
			fmt.Printf("ERROR: audit sweep failed: %v\n", err)
			os.Exit(1)
		}

		var exceptions int
		var savings float64
		for _, entry := range entries {
			if entry.Result == nil {
				continue
			}
			exceptions += entry.Result.ExceptionsFound
			savings += entry.Result.TotalPotentialSavings
		}
		fmt.Printf("Audited %d shipments: %d exceptions, %.2f potential savings\n",
			len(entries), exceptions, savings)
	}

	if *runSummaries {
		svc := metrics.NewService(repo, cache.NewLRUCache(16), logger)
		summaries, err := svc.RecomputeDailySummaries(ctx, 30)
		if err != nil {
			fmt.Printf("ERROR: summary rebuild failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Rebuilt %d daily summaries\n", len(summaries))
	}

	fmt.Println("\nSeeding complete.")
}

func seedLanes(ctx context.Context, repo domain.Repository, rng *rand.Rand, count int) ([]*domain.Lane, error) {
	lanes := make([]*domain.Lane, 0, count)
	used := make(map[string]bool)

	for len(lanes) < count {
		origin := cities[rng.Intn(len(cities))]
		destination := cities[rng.Intn(len(cities))]
		carrier := carriers[rng.Intn(len(carriers))]
		key := origin + "|" + destination + "|" + carrier
		if origin == destination || used[key] {
			continue
		}
		used[key] = true

		lane := &domain.Lane{
			Origin:               origin,
			Destination:          destination,
			CarrierCode:          carrier,
			BaseRate:             float64(150+rng.Intn(650)) + float64(rng.Intn(100))/100,
			FuelSurchargePercent: float64(10 + rng.Intn(16)),
			TransitDays:          2 + rng.Intn(6),
		}
		if err := repo.SaveLane(ctx, lane); err != nil {
			return nil, err
		}
		lanes = append(lanes, lane)
	}

	return lanes, nil
}

func seedShipments(ctx context.Context, repo domain.Repository, rng *rand.Rand, lanes []*domain.Lane, count int) (created, errored int, err error) {
	now := time.Now().UTC()

	for i := 0; i < count; i++ {
		lane := lanes[rng.Intn(len(lanes))]

		// Four in five shipments are billed correctly; the rest get one
		// deliberate error so every audit rule has something to find.
		mode := errNone
		if rng.Intn(100) < 20 {
			mode = 1 + rng.Intn(5)
			errored++
		}

		weight := float64(10+rng.Intn(490)) + float64(rng.Intn(100))/100
		createdAt := now.AddDate(0, 0, -(1 + rng.Intn(30)))
		expected := createdAt.AddDate(0, 0, lane.TransitDays)
		actual := expected.AddDate(0, 0, -rng.Intn(2))
		if mode == errLateDelivery {
			actual = expected.AddDate(0, 0, 1+rng.Intn(5))
		}

		s := &domain.Shipment{
			LaneID:           lane.ID,
			TrackingNumber:   fmt.Sprintf("TRK-%06d-%04d", rng.Intn(1000000), i),
			Weight:           weight,
			Volume:           weight * (0.8 + rng.Float64()*0.4),
			DeclaredValue:    weight * float64(5+rng.Intn(16)),
			ExpectedDelivery: &expected,
			ActualDelivery:   &actual,
			Status:           domain.ShipmentDelivered,
			CreatedAt:        createdAt,
		}
		if err := repo.SaveShipment(ctx, s); err != nil {
			return created, errored, err
		}

		inv := buildInvoice(rng, lane, s, mode, i)
		if err := repo.SaveInvoice(ctx, inv); err != nil {
			return created, errored, err
		}

		if mode == errDuplicateInvoice {
			dup := buildInvoice(rng, lane, s, errNone, i)
			dup.InvoiceNumber = inv.InvoiceNumber + "-DUP"
			if err := repo.SaveInvoice(ctx, dup); err != nil {
				return created, errored, err
			}
		}

		created++
	}

	return created, errored, nil
}

func buildInvoice(rng *rand.Rand, lane *domain.Lane, s *domain.Shipment, mode int, n int) *domain.Invoice {
	billedWeight := s.Weight
	billedAmount := lane.BaseRate * 1.15
	fuelSurcharge := billedAmount * 0.15

	switch mode {
	case errOverbilledWeight:
		billedWeight = s.Weight * (1.15 + rng.Float64()*0.15)
	case errRateAbuse:
		billedAmount = lane.BaseRate*1.5 + float64(25+rng.Intn(76))
	case errFuelSurcharge:
		fuelSurcharge = billedAmount * (0.30 + rng.Float64()*0.15)
	}

	invoiceDate := s.CreatedAt.AddDate(0, 0, 1+rng.Intn(3))

	inv := &domain.Invoice{
		ShipmentID:    s.ID,
		InvoiceNumber: fmt.Sprintf("INV-%d-%05d", invoiceDate.Year(), n),
		BilledWeight:  billedWeight,
		BilledAmount:  billedAmount,
		FuelSurcharge: fuelSurcharge,
		InvoiceDate:   invoiceDate,
		DueDate:       invoiceDate.AddDate(0, 0, 30),
		PaymentStatus: domain.PaymentPending,
	}

	if rng.Intn(100) < 30 {
		inv.AdditionalCharges = map[string]float64{
			"residential_fee":    15.50,
			"signature_required": 8.75,
		}
	}

	return inv
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/models"
)

type fakeSeeder struct {
	rows    map[string]int
	seeded  []string
	reads   []string
	seedErr error
}

func (f *fakeSeeder) Seed(_ context.Context, product string, quantity int) (bool, error) {
	if f.seedErr != nil {
		return false, f.seedErr
	}
	f.seeded = append(f.seeded, product)
	if _, ok := f.rows[product]; ok {
		return false, nil
	}
	f.rows[product] = quantity
	return true, nil
}

func (f *fakeSeeder) Get(_ context.Context, product string) (*models.StockItem, error) {
	f.reads = append(f.reads, product)
	q, ok := f.rows[product]
	if !ok {
		return nil, models.ErrUnknownProduct
	}
	return &models.StockItem{Product: product, Quantity: q}, nil
}

func TestSeedInventory(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	s := &fakeSeeder{rows: map[string]int{"gadget": 1}}

	err := seedInventory(t.Context(), s, map[string]int{"widget": 10, "gadget": 5}, log)
	if err != nil {
		t.Fatalf("seedInventory: %v", err)
	}
	if len(s.seeded) != 2 || s.seeded[0] != "gadget" || s.seeded[1] != "widget" {
		t.Fatalf("seeded %v, want sorted gadget, widget", s.seeded)
	}
	if s.rows["widget"] != 10 || s.rows["gadget"] != 1 {
		t.Fatalf("rows = %v; existing stock must be kept", s.rows)
	}
	if len(s.reads) != 1 || s.reads[0] != "gadget" {
		t.Fatalf("reads = %v", s.reads)
	}
}

func TestSeedInventoryEmptyAndFailing(t *testing.T) {
	log := slog.New(slog.DiscardHandler)

	s := &fakeSeeder{rows: map[string]int{}}
	if err := seedInventory(t.Context(), s, nil, log); err != nil || len(s.seeded) != 0 {
		t.Fatalf("empty seed: err=%v seeded=%v", err, s.seeded)
	}

	down := errors.New("connection refused")
	err := seedInventory(t.Context(), &fakeSeeder{seedErr: down}, map[string]int{"widget": 1}, log)
	if !errors.Is(err, down) {
		t.Fatalf("seedInventory() = %v, want %v", err, down)
	}
}

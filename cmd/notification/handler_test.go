package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/models"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/worker"
)

type fakeNotifications struct {
	sent    map[string]models.OrderEvent
	err     error
	getErr  error
	lookups int
}

func (f *fakeNotifications) Insert(_ context.Context, messageID string, e models.OrderEvent) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.sent[messageID]; ok {
		return models.ErrAlreadyProcessed
	}
	f.sent[messageID] = e
	return nil
}

func (f *fakeNotifications) Get(_ context.Context, messageID string) (*models.Notification, error) {
	f.lookups++
	if f.getErr != nil {
		return nil, f.getErr
	}
	e, ok := f.sent[messageID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &models.Notification{
		MessageID: messageID,
		Customer:  string(e.Customer),
		Product:   string(e.Product),
		Quantity:  float64(e.Quantity),
		CreatedAt: time.Now(),
	}, nil
}

func TestHandleOrderRecordsOncePerMessage(t *testing.T) {
	store := &fakeNotifications{sent: map[string]models.OrderEvent{}}
	h := &handler{notifications: store, logger: slog.New(slog.DiscardHandler)}
	m := worker.Message{ID: "m1", Event: models.OrderEvent{Product: "abc", Customer: "c1"}}

	for i := 0; i < 2; i++ {
		if err := h.HandleOrder(t.Context(), m); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}
	if len(store.sent) != 1 || store.sent["m1"].Customer != "c1" {
		t.Fatalf("sent = %v", store.sent)
	}
	if store.lookups != 1 {
		t.Fatalf("lookups = %d, want 1 for the duplicate", store.lookups)
	}
}

func TestHandleOrderDuplicateLookupFailureStillAcks(t *testing.T) {
	store := &fakeNotifications{
		sent:   map[string]models.OrderEvent{"m1": {Customer: "c1"}},
		getErr: errors.New("timeout"),
	}
	h := &handler{notifications: store, logger: slog.New(slog.DiscardHandler)}

	err := h.HandleOrder(t.Context(), worker.Message{ID: "m1", Event: models.OrderEvent{Customer: "c1"}})
	if err != nil {
		t.Fatalf("HandleOrder() = %v, want nil", err)
	}
	if store.lookups != 1 {
		t.Fatalf("lookups = %d", store.lookups)
	}
}

func TestHandleOrderErrors(t *testing.T) {
	log := slog.New(slog.DiscardHandler)

	missingCustomer := &handler{notifications: &fakeNotifications{sent: map[string]models.OrderEvent{}}, logger: log}
	err := missingCustomer.HandleOrder(t.Context(), worker.Message{ID: "m1", Event: models.OrderEvent{Product: "abc"}})
	if !worker.IsPermanent(err) || !errors.Is(err, models.ErrMissingCustomer) {
		t.Fatalf("missing customer: %v", err)
	}

	down := &handler{notifications: &fakeNotifications{err: errors.New("timeout")}, logger: log}
	err = down.HandleOrder(t.Context(), worker.Message{ID: "m1", Event: models.OrderEvent{Customer: "c1"}})
	if err == nil || worker.IsPermanent(err) {
		t.Fatalf("store failure should be retryable: %v", err)
	}
}

func TestHandleOrderWithoutDatabaseOnlyLogs(t *testing.T) {
	h := &handler{logger: slog.New(slog.DiscardHandler)}
	if err := h.HandleOrder(t.Context(), worker.Message{Event: models.OrderEvent{Product: "abc"}}); err != nil {
		t.Fatalf("HandleOrder() = %v", err)
	}
}

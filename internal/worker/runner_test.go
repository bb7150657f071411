package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/broker"
)

type statusRecorder struct {
	mu      sync.Mutex
	events  []string
	readyCh chan struct{}
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{readyCh: make(chan struct{}, 8)}
}

func (s *statusRecorder) SetReady() {
	s.mu.Lock()
	s.events = append(s.events, "ready")
	s.mu.Unlock()
	s.readyCh <- struct{}{}
}

func (s *statusRecorder) SetUnready(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "unready:"+reason)
}

func (s *statusRecorder) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func newTestRunner(open func(ctx context.Context) (Session, error), status StatusReporter) *Runner {
	r := NewRunner(nil, RunnerConfig{
		Queue:  broker.DurableQueue("orders", ""),
		Worker: Config{Queue: "orders", ConsumerTag: "test"},
	}, HandlerFunc(func(context.Context, Message) error { return nil }), status, discardLogger())
	r.open = open
	return r
}

func TestRunnerConnectionFailureIsTerminal(t *testing.T) {
	status := newStatusRecorder()
	connErr := &broker.ConnectionError{Kind: broker.MaxRetriesExceeded, Attempts: 5, Err: errors.New("refused")}
	r := newTestRunner(func(context.Context) (Session, error) { return nil, connErr }, status)

	err := r.Run(t.Context())
	if !errors.Is(err, broker.ErrMaxRetriesExceeded) {
		t.Fatalf("want ErrMaxRetriesExceeded, got %v", err)
	}

	events := status.snapshot()
	if len(events) != 1 || events[0][:8] != "unready:" {
		t.Fatalf("status events = %v", events)
	}
}

func TestRunnerReconnectsAfterSessionLoss(t *testing.T) {
	status := newStatusRecorder()

	first := newFakeSubscriber()
	close(first.deliveries)
	second := newFakeSubscriber()

	opened := 0
	r := newTestRunner(func(context.Context) (Session, error) {
		opened++
		if opened == 1 {
			return first, nil
		}
		return second, nil
	}, status)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-status.readyCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("ready #%d not reported", i+1)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	if opened != 2 {
		t.Fatalf("opened %d sessions, want 2", opened)
	}
	if first.closed != 1 || second.closed != 1 {
		t.Fatalf("sessions closed: first=%d second=%d", first.closed, second.closed)
	}

	events := status.snapshot()
	want := []string{"ready", "unready:broker session lost", "ready"}
	if len(events) != len(want) {
		t.Fatalf("status events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("status events = %v, want %v", events, want)
		}
	}
}

func TestRunnerCanceledWhileConnecting(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	r := newTestRunner(func(ctx context.Context) (Session, error) {
		cancel()
		return nil, &broker.ConnectionError{Kind: broker.Canceled, Err: ctx.Err()}
	}, newStatusRecorder())

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunnerKeepsAttemptsAcrossReconnects(t *testing.T) {
	first, second := newFakeSubscriber(), newFakeSubscriber()
	firstRec, secondRec := &ackRecorder{}, &ackRecorder{}

	first.deliveries <- delivery(firstRec, "m1", `{"product":"widget","quantity":1}`)
	close(first.deliveries)
	redelivered := delivery(secondRec, "m1", `{"product":"widget","quantity":1}`)
	redelivered.Redelivered = true
	second.deliveries <- redelivered

	opened := 0
	r := NewRunner(nil, RunnerConfig{
		Queue:  broker.DurableQueue("orders", "orders.dead"),
		Worker: Config{Queue: "orders", DeadLetterQueue: "orders.dead", ConsumerTag: "test", MaxAttempts: 2},
	}, HandlerFunc(func(context.Context, Message) error {
		return errors.New("stock service unavailable")
	}), newStatusRecorder(), discardLogger())
	r.open = func(context.Context) (Session, error) {
		opened++
		if opened == 1 {
			return first, nil
		}
		return second, nil
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		second.mu.Lock()
		n := len(second.published)
		second.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("second delivery was not dead-lettered; attempts were reset by the reconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if firstRec.nacks != 1 || !firstRec.requeue {
		t.Fatalf("first delivery: nacks=%d requeue=%v, want requeued", firstRec.nacks, firstRec.requeue)
	}
	if secondRec.acks != 1 {
		t.Fatalf("second delivery acks = %d, want 1 after dead-lettering", secondRec.acks)
	}
	if got := second.published[0].Headers[broker.HeaderAttempts]; got != int64(2) {
		t.Fatalf("x-attempts = %v, want 2", got)
	}
}

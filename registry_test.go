package goRegistry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/MrEthical07/goRegistry/service"
	"github.com/MrEthical07/goRegistry/ticket"
	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func quietLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func testConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.Store.Endpoints = []string{addr}
	cfg.Store.Bucket = "registry"
	cfg.Store.RetryInterval = 20 * time.Millisecond
	cfg.Store.DialTimeout = 200 * time.Millisecond
	cfg.Services.SeedRetryInterval = 20 * time.Millisecond
	cfg.Metrics.Enabled = true
	return cfg
}

func TestRegistryEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(mr.Addr())
	cfg.Audit.Enabled = true
	cfg.Services.Static = []ServiceConfig{
		{Kind: "regex", Name: "portal", ServiceID: `https://portal\.example\.org/.*`},
	}
	sink := NewChannelSink(16)

	reg, err := New().
		WithConfig(cfg).
		WithLogger(quietLogger()).
		WithAuditSink(sink).
		WithStaticServices(service.NewAntPattern("docs", "https://docs.example.org/**")).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := reg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := reg.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if !reg.Ready() {
		t.Fatalf("expected registry to be ready")
	}

	for reg.Health().Seeded < 2 {
		if ctx.Err() != nil {
			t.Fatalf("seeding did not finish: %+v", reg.Health())
		}
		time.Sleep(10 * time.Millisecond)
	}

	services := reg.Services().LoadAll(ctx)
	if len(services) != 2 {
		t.Fatalf("expected 2 seeded services, got %d", len(services))
	}
	// The counter starts at the number of static services.
	if services[0].Common().ID != 2 || services[1].Common().ID != 3 {
		t.Fatalf("unexpected ids %d %d", services[0].Common().ID, services[1].Common().ID)
	}
	if !services[0].Matches("https://portal.example.org/login") {
		t.Fatalf("expected seeded regex service to match")
	}

	tgt := ticket.New(ticket.GrantingTicket, []byte("casuser"))
	if out, err := reg.Tickets().Add(ctx, tgt); err != nil || out != ticket.OutcomeSucceeded {
		t.Fatalf("Add failed: %v %v", out, err)
	}
	for i := 0; i < 3; i++ {
		if _, err := reg.Tickets().Add(ctx, ticket.New(ticket.ServiceTicket, nil)); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	stats, err := reg.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Sessions != 1 || stats.ServiceTickets != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	snap := reg.MetricsSnapshot()
	if snap.Counters[MetricConnectSuccess] != 1 || snap.Counters[MetricTicketAdded] != 4 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}

	if err := reg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := reg.Start(context.Background()); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown after Close, got %v", err)
	}

	seen := map[string]bool{}
	for {
		select {
		case ev := <-sink.Events():
			seen[ev.EventType] = true
			continue
		default:
		}
		break
	}
	for _, want := range []string{AuditServiceSaved, AuditServicesSeeded, AuditTicketGrantingCreated} {
		if !seen[want] {
			t.Fatalf("expected audit event %s, saw %v", want, seen)
		}
	}
	delivered := reg.AuditDeliveredByType()
	if delivered[AuditTicketGrantingCreated] != 1 || delivered[AuditServiceSaved] != 2 {
		t.Fatalf("unexpected audit deliveries: %v", delivered)
	}
	if dropped := reg.AuditDroppedByType(); len(dropped) != 0 {
		t.Fatalf("expected no audit drops, got %v", dropped)
	}
}

func TestRegistryStartsWhileStoreIsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	reg, err := New().WithConfig(testConfig(addr)).WithLogger(quietLogger()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer reg.Close()

	start := time.Now()
	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Start blocked for %s", elapsed)
	}
	if reg.Ready() {
		t.Fatalf("expected registry not to be ready")
	}

	_, err = reg.Tickets().Add(context.Background(), ticket.New(ticket.GrantingTicket, nil))
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if got := reg.Services().LoadAll(context.Background()); len(got) != 0 {
		t.Fatalf("expected no services while not ready")
	}
	if h := reg.Health(); h.State != "connecting" || h.Ready {
		t.Fatalf("unexpected health: %+v", h)
	}
}

func TestBuilderRejectsReuseAndBadConfig(t *testing.T) {
	b := New().WithConfig(testConfig("127.0.0.1:6379")).WithLogger(quietLogger())
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatalf("expected second Build to fail")
	}

	cfg := testConfig("127.0.0.1:6379")
	cfg.Store.Endpoints = nil
	if _, err := New().WithConfig(cfg).Build(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

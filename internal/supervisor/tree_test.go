package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingService runs until canceled, failing the first failures runs.
type countingService struct {
	name     string
	failures int32
	starts   atomic.Int32
}

func (s *countingService) Serve(ctx context.Context) error {
	n := s.starts.Add(1)
	if n <= s.failures {
		return errors.New("crashed")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) String() string { return s.name }

func TestNewTreeDefaults(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{})
	cfg := tree.Config()
	if cfg != DefaultTreeConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}

	custom := NewTree(quietLogger(), TreeConfig{FailureThreshold: 2, ShutdownTimeout: time.Second})
	if custom.Config().FailureThreshold != 2 || custom.Config().ShutdownTimeout != time.Second {
		t.Fatalf("custom values not kept: %+v", custom.Config())
	}
	if custom.Config().FailureDecay != 30 {
		t.Fatalf("zero decay not defaulted: %+v", custom.Config())
	}
}

func TestTreeLifecycle(t *testing.T) {
	tree := NewTree(quietLogger(), TreeConfig{
		FailureBackoff:  10 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})
	rec := &countingService{name: "pool"}
	msg := &countingService{name: "bus", failures: 2}
	api := &countingService{name: "http"}
	tree.AddRecomputeService(rec)
	tree.AddMessagingService(msg)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for msg.starts.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := msg.starts.Load(); got < 3 {
		t.Fatalf("crashing service restarted %d times, want at least 3 starts", got)
	}
	if rec.starts.Load() != 1 || api.starts.Load() != 1 {
		t.Fatalf("healthy services restarted: pool=%d http=%d", rec.starts.Load(), api.starts.Load())
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
	report, err := tree.UnstoppedServiceReport()
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(report) != 0 {
		t.Fatalf("unstopped services: %v", report)
	}
}

type fakeServer struct {
	mu       sync.Mutex
	stop     chan struct{}
	listen   error
	shutdown int
}

func newFakeServer() *fakeServer { return &fakeServer{stop: make(chan struct{})} }

func (f *fakeServer) ListenAndServe() error {
	if f.listen != nil {
		return f.listen
	}
	<-f.stop
	return nil
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown++
	close(f.stop)
	return nil
}

func TestHTTPService(t *testing.T) {
	t.Run("shuts down on cancel", func(t *testing.T) {
		srv := newFakeServer()
		svc := NewHTTPService(srv, 0)
		if svc.String() != "http-server" {
			t.Fatalf("unexpected name %q", svc.String())
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()
		cancel()

		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled, got %v", err)
		}
		if srv.shutdown != 1 {
			t.Fatalf("shutdown called %d times", srv.shutdown)
		}
	})

	t.Run("reports listener failure", func(t *testing.T) {
		srv := newFakeServer()
		srv.listen = errors.New("address in use")
		err := NewHTTPService(srv, time.Second).Serve(context.Background())
		if err == nil || !errors.Is(err, srv.listen) {
			t.Fatalf("expected listener error, got %v", err)
		}
	})
}

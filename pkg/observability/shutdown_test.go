package observability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewShutdownManager tests the creation of a new shutdown manager
func TestNewShutdownManager(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{
			name:            "with custom timeout",
			timeout:         10 * time.Second,
			expectedTimeout: 10 * time.Second,
		},
		{
			name:            "with zero timeout uses default",
			timeout:         0,
			expectedTimeout: 30 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(InfoLevel, &bytes.Buffer{})

			sm := NewShutdownManager(logger, tt.timeout)

			if sm.logger != logger {
				t.Error("Logger not set correctly")
			}
			if sm.shutdownTimeout != tt.expectedTimeout {
				t.Errorf("Expected timeout %v, got %v", tt.expectedTimeout, sm.shutdownTimeout)
			}
			if len(sm.servers) != 0 || len(sm.shutdownFuncs) != 0 {
				t.Error("Expected no servers or functions")
			}
		})
	}
}

func TestAddServer(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), time.Second)

	sm.AddServer(&http.Server{Addr: ":8080"})
	sm.AddServer(nil)
	sm.AddServer(&http.Server{Addr: ":9090"})

	if len(sm.servers) != 2 {
		t.Errorf("Expected 2 servers, got %d", len(sm.servers))
	}
}

func TestShutdown_DrainsServersThenRunsFuncs(t *testing.T) {
	logger := NewLogger(InfoLevel, io.Discard)
	sm := NewShutdownManager(logger, 5*time.Second)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()
	defer health.Close()

	sm.AddServer(api.Config)
	sm.AddServer(health.Config)

	var calls int32
	for i := 0; i < 3; i++ {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 shutdown functions to run, got %d", got)
	}

	if _, err := http.Get(api.URL); err == nil {
		t.Error("Expected API server to refuse connections after shutdown")
	}
}

func TestShutdown_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), 5*time.Second)

	errRedis := errors.New("redis close failed")
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return errRedis })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return errors.New("otel flush failed") })

	err := sm.Shutdown(context.Background())
	if err == nil {
		t.Fatal("Expected error")
	}
	if !errors.Is(err, errRedis) {
		t.Errorf("Expected wrapped redis error, got %v", err)
	}
	if !strings.Contains(err.Error(), "2 errors") {
		t.Errorf("Expected error count in %q", err.Error())
	}
}

func TestShutdown_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), time.Second)

	release := make(chan struct{})
	defer close(release)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sm.Shutdown(ctx)

	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Expected timeout error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Shutdown did not honour the context deadline")
	}
}

func TestShutdown_RecoversPanickingFunc(t *testing.T) {
	var buf bytes.Buffer
	sm := NewShutdownManager(NewLogger(InfoLevel, &buf), time.Second)

	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		panic("boom")
	})

	err := sm.Shutdown(context.Background())

	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Errorf("Expected panic error, got %v", err)
	}
	if !strings.Contains(buf.String(), "PANIC recovered") {
		t.Error("Expected panic to be logged")
	}
}

func TestShutdown_Concurrent(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), 5*time.Second)

	var started sync.WaitGroup
	started.Add(3)
	for i := 0; i < 3; i++ {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			started.Done()
			started.Wait()
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- sm.Shutdown(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown functions did not run concurrently")
	}
}

func TestRegisterShutdownFunc_ThreadSafety(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })
		}()
	}
	wg.Wait()

	if len(sm.shutdownFuncs) != 50 {
		t.Errorf("Expected 50 functions, got %d", len(sm.shutdownFuncs))
	}
}

func TestWaitForShutdown_ContextDone(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), time.Second)

	var ran int32
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sm.WaitForShutdown(ctx); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Error("Expected shutdown function to run")
	}
}

package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/drewdunne/bicepmigrate/internal/config"
)

func localConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server = config.ServerConfig{Host: "127.0.0.1", Port: 0} // any available port
	return cfg
}

// runInBackground starts srv and waits for it to accept connections.
func runInBackground(t *testing.T, ctx context.Context, srv *Server) <-chan error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	select {
	case <-srv.Ready():
	case err := <-errCh:
		t.Fatalf("Run() exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}
	return errCh
}

func waitExit(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("server did not shut down in time")
	}
}

func TestServer_Shutdown(t *testing.T) {
	srv := New(localConfig())
	errCh := runInBackground(t, context.Background(), srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v, want nil", err)
	}
	waitExit(t, errCh)
}

func TestServer_ShutdownOnContextCancel(t *testing.T) {
	srv := New(localConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runInBackground(t, ctx, srv)
	addr := srv.Addr()

	cancel()
	waitExit(t, errCh)

	if _, err := http.Get("http://" + addr + "/health"); err == nil {
		t.Error("server still accepting connections after cancel")
	}
}

func TestServer_CancelDrainsActiveRequests(t *testing.T) {
	srv := New(localConfig())

	requestStarted := make(chan struct{})
	requestDone := make(chan struct{})
	srv.mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		close(requestStarted)
		<-requestDone
		w.Write([]byte("done"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runInBackground(t, ctx, srv)
	addr := srv.Addr()

	var (
		wg     sync.WaitGroup
		status int
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := http.Get("http://" + addr + "/slow")
		if err != nil {
			return
		}
		status = resp.StatusCode
		resp.Body.Close()
	}()

	<-requestStarted
	cancel()

	// Run must wait for the in-flight request.
	select {
	case err := <-errCh:
		t.Fatalf("Run() returned %v before the active request finished", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(requestDone)
	wg.Wait()
	waitExit(t, errCh)

	if status != http.StatusOK {
		t.Errorf("slow request status = %d, want %d", status, http.StatusOK)
	}
}

func TestServer_Addr(t *testing.T) {
	srv := New(localConfig())

	if addr := srv.Addr(); addr != "" {
		t.Errorf("Addr() before start = %q, want empty", addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runInBackground(t, ctx, srv)

	if addr := srv.Addr(); addr == "" {
		t.Error("Addr() after start = empty, want non-empty")
	}

	cancel()
	waitExit(t, errCh)
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	srv := New(localConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() before start error = %v, want nil", err)
	}
}

func TestServer_ShutdownTimeout(t *testing.T) {
	srv := New(localConfig())

	requestStarted := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	srv.mux.HandleFunc("/stuck", func(w http.ResponseWriter, r *http.Request) {
		close(requestStarted)
		<-release
	})

	errCh := runInBackground(t, context.Background(), srv)
	addr := srv.Addr()

	go func() {
		resp, err := http.Get("http://" + addr + "/stuck")
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-requestStarted

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := srv.Shutdown(ctx); err != context.DeadlineExceeded {
		t.Errorf("Shutdown() with stuck request error = %v, want %v", err, context.DeadlineExceeded)
	}
	<-errCh
}

func TestServer_ListenError(t *testing.T) {
	first := New(localConfig())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := runInBackground(t, ctx, first)
	defer func() {
		cancel()
		waitExit(t, errCh)
	}()

	_, portStr, err := net.SplitHostPort(first.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", first.Addr(), err)
	}
	cfg := localConfig()
	cfg.Server.Port, _ = strconv.Atoi(portStr)

	if err := New(cfg).Run(context.Background()); err == nil {
		t.Error("Run() on a taken port error = nil, want error")
	}
}

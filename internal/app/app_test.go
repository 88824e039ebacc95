package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/config"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/observability"
)

func TestRunShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	srv := &http.Server{Addr: addr, Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}
	bg := &recordingBackground{started: make(chan struct{})}
	a := New(&config.Config{Env: "test", ShutdownTimeout: time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)), srv, nil, []Background{bg})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-bg.started:
	case <-time.After(time.Second):
		t.Fatal("background task never started")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if !bg.stopped.Load() {
		t.Fatal("background task must stop before run returns")
	}
}

type recordingBackground struct {
	started chan struct{}
	stopped atomic.Bool
}

func (b *recordingBackground) Run(ctx context.Context) error {
	close(b.started)
	<-ctx.Done()
	b.stopped.Store(true)
	return nil
}

func TestRunReturnsListenError(t *testing.T) {
	a := New(&config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)), &http.Server{Addr: "bad-address"}, &observability.Runtime{}, nil)
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}

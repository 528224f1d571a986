package radar

import (
	"context"
	"net"
	"testing"
	"time"
)

func startFakeBridge(t *testing.T, lines []string, hold chan struct{}) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for _, line := range lines {
			if _, err := conn.Write([]byte(line + "\n")); err != nil {
				return
			}
		}
		if hold != nil {
			<-hold
		}
	}()
	return ln.Addr().String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing addr")
	}
}

func TestServiceStreamsFrames(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	addr := startFakeBridge(t, []string{
		`{"frame":7,"points":[{"x":1.0,"y":2.0,"z":0.5,"v":-0.3,"snr":12.5},{"x":-1.0,"y":0.0,"z":0.0,"v":0.0,"snr":8.0}]}`,
	}, hold)

	svc, err := New(Config{Addr: addr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	sub := svc.Frames().Subscribe(4)
	defer sub.Cancel()

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case pc := <-sub.C:
		if pc.Frame != 7 || len(pc.Points) != 2 {
			t.Fatalf("frame=%+v", pc)
		}
		if pc.Points[0].X != 1.0 || pc.Points[0].V != -0.3 || pc.Points[0].SNR != 12.5 {
			t.Fatalf("point=%+v", pc.Points[0])
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no frame on stream")
	}

	latest, ok := svc.Latest()
	if !ok || latest.Frame != 7 {
		t.Fatalf("latest=%+v ok=%v", latest, ok)
	}
	if svc.Snapshot().Frames != 1 {
		t.Fatalf("snapshot=%+v", svc.Snapshot())
	}
}

func TestServiceSkipsMalformedFrames(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	addr := startFakeBridge(t, []string{
		`{not json`,
		`{"frame":1,"points":[]}`,
	}, hold)

	svc, err := New(Config{Addr: addr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "good frame after bad line", func() bool {
		_, ok := svc.Latest()
		return ok
	})
	snap := svc.Snapshot()
	if snap.DecodeErrors != 1 || snap.Frames != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestServicePublishesInfo(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	addr := startFakeBridge(t, nil, hold)

	svc, err := New(Config{Addr: addr, InfoInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	sub := svc.Infos().Subscribe(8)
	defer sub.Cancel()

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case info := <-sub.C:
			if info.Addr != addr {
				t.Fatalf("info=%+v", info)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("no info %d", i)
		}
	}
}

func TestServiceReconnects(t *testing.T) {
	// First session ends immediately; the test then serves a fresh session on
	// the same address.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	addr := ln.Addr().String()

	hold := make(chan struct{})
	defer close(hold)
	go func() {
		first, err := ln.Accept()
		if err != nil {
			return
		}
		_ = first.Close()

		second, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = second.Close() }()
		_, _ = second.Write([]byte(`{"frame":42,"points":[]}` + "\n"))
		<-hold
	}()

	svc, err := New(Config{Addr: addr, ReconnectDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "frame after reconnect", func() bool {
		pc, ok := svc.Latest()
		return ok && pc.Frame == 42
	})
}

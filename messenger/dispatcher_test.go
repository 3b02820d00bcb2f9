package messenger

import (
	"context"
	"errors"
	"roguestock-notifier/pkg/notifier"
	"sync"
	"testing"
	"time"
)

type recordingProvider struct {
	mu    sync.Mutex
	sent  map[string][]string
	err   error
	block chan struct{}
}

func newRecordingProvider() *recordingProvider {
	return &recordingProvider{sent: map[string][]string{}}
}

func (p *recordingProvider) Send(ctx context.Context, to, text string) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent[to] = append(p.sent[to], text)
	return p.err
}

func (p *recordingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, msgs := range p.sent {
		n += len(msgs)
	}
	return n
}

func TestDispatcherDelivers(t *testing.T) {
	p := newRecordingProvider()
	d := NewDispatcher(p, DispatchConfig{Workers: 2, QueueSize: 8, RatePerSec: 100}, testLogger())
	d.Start(context.Background())

	for _, to := range []string{"a", "b", "c"} {
		if err := d.Enqueue(to, "hi "+to); err != nil {
			t.Fatalf("Enqueue(%s) = %v", to, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if n := p.count(); n != 3 {
		t.Errorf("delivered %d messages, want 3", n)
	}
	if got := p.sent["b"]; len(got) != 1 || got[0] != "hi b" {
		t.Errorf("messages to b = %v", got)
	}
}

func TestDispatcherFailureIsDropped(t *testing.T) {
	p := newRecordingProvider()
	p.err = errors.New("recipient blocked the page")
	d := NewDispatcher(p, DispatchConfig{Workers: 1, QueueSize: 4, RatePerSec: 100}, testLogger())
	d.Start(context.Background())

	if err := d.Enqueue("a", "one"); err != nil {
		t.Fatalf("Enqueue() = %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if n := p.count(); n != 1 {
		t.Errorf("provider called %d times, want 1 (no retry)", n)
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	p := newRecordingProvider()
	p.block = make(chan struct{})
	d := NewDispatcher(p, DispatchConfig{Workers: 1, QueueSize: 1, RatePerSec: 100}, testLogger())
	d.Start(context.Background())

	var full bool
	for range 5 {
		if err := d.Enqueue("a", "x"); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	if !full {
		t.Error("Enqueue() never reported ErrQueueFull with a blocked worker")
	}

	close(p.block)
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
}

func TestDispatcherDrainsAfterStartContextCancelled(t *testing.T) {
	p := newRecordingProvider()
	d := NewDispatcher(p, DispatchConfig{Workers: 1, QueueSize: 8, RatePerSec: 100}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	for range 5 {
		if err := d.Enqueue("a", "restock"); err != nil {
			t.Fatalf("Enqueue() = %v", err)
		}
	}
	// Signal-driven shutdown cancels the start context before Stop runs.
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if n := p.count(); n != 5 {
		t.Errorf("delivered %d of 5 queued messages", n)
	}
}

func TestDispatcherStopDeadline(t *testing.T) {
	p := newRecordingProvider()
	p.block = make(chan struct{})
	defer close(p.block)
	d := NewDispatcher(p, DispatchConfig{Workers: 1, QueueSize: 4, RatePerSec: 100}, testLogger())
	d.Start(context.Background())
	if err := d.Enqueue("a", "x"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() with a stuck provider = %v, want DeadlineExceeded", err)
	}
}

func TestDispatcherStopped(t *testing.T) {
	d := NewDispatcher(newRecordingProvider(), DispatchConfig{}, testLogger())
	if err := d.Enqueue("a", "x"); !errors.Is(err, ErrStopped) {
		t.Errorf("Enqueue() before Start = %v, want ErrStopped", err)
	}

	d.Start(context.Background())
	if err := d.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Enqueue("a", "x"); !errors.Is(err, ErrStopped) {
		t.Errorf("Enqueue() after Stop = %v, want ErrStopped", err)
	}
}

func TestSenderNotify(t *testing.T) {
	p := newRecordingProvider()
	d := NewDispatcher(p, DispatchConfig{Workers: 1, QueueSize: 4, RatePerSec: 100}, testLogger())
	d.Start(context.Background())
	s := New(d, testLogger(), time.UTC)

	n := testNotice(notifier.WentOutOfStock)
	if err := s.Notify(context.Background(), "u1", n); err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	if err := s.SendText(context.Background(), "u1", "Thanks!"); err != nil {
		t.Fatalf("SendText() = %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := p.sent["u1"]
	if len(got) != 2 || got[0] != FormatNotice(n, time.UTC) || got[1] != "Thanks!" {
		t.Errorf("messages to u1 = %q", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Notify(ctx, "u1", n); !errors.Is(err, context.Canceled) {
		t.Errorf("Notify() with cancelled context = %v", err)
	}
}

func TestParseChatID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"123456789", 123456789, false},
		{" -100200300 ", -100200300, false},
		{"psid-abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseChatID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseChatID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseChatID(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

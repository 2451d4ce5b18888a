package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type pipeBody struct {
	pr     *io.PipeReader
	pw     *io.PipeWriter
	closed chan struct{}
	once   sync.Once
}

func newPipeBody() *pipeBody {
	pr, pw := io.Pipe()
	return &pipeBody{pr: pr, pw: pw, closed: make(chan struct{})}
}

func (b *pipeBody) Read(p []byte) (int, error) { return b.pr.Read(p) }

func (b *pipeBody) Close() error {
	b.once.Do(func() {
		close(b.closed)
		b.pr.Close()
		b.pw.Close()
	})
	return nil
}

func (b *pipeBody) send(t *testing.T, s string) {
	t.Helper()
	if _, err := b.pw.Write([]byte(s)); err != nil {
		t.Fatalf("send: %v", err)
	}
}

// endStream closes the write side only, simulating the server hanging
// up cleanly.
func (b *pipeBody) endStream() { b.pw.Close() }

// scriptDialer fails the first failures dials, then hands out pipe
// bodies.
type scriptDialer struct {
	mu       sync.Mutex
	failures int
	calls    int
	bodies   []*pipeBody
}

func (d *scriptDialer) Dial(context.Context, string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failures {
		return nil, errors.New("dial failed")
	}
	b := newPipeBody()
	d.bodies = append(d.bodies, b)
	return b, nil
}

func (d *scriptDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *scriptDialer) body(i int) *pipeBody {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bodies[i]
}

func newTestManager(d Dialer) *ConnManager {
	m := NewConnManager(d, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	m.Backoff = func(int) time.Duration { return time.Millisecond }
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func collector() (Listener, func() []Message) {
	var mu sync.Mutex
	var msgs []Message
	fn := func(m Message) {
		mu.Lock()
		msgs = append(msgs, m)
		mu.Unlock()
	}
	snap := func() []Message {
		mu.Lock()
		defer mu.Unlock()
		return append([]Message{}, msgs...)
	}
	return fn, snap
}

func TestOnePhysicalConnectionPerToken(t *testing.T) {
	d := &scriptDialer{}
	m := newTestManager(d)

	l1, _ := collector()
	l2, _ := collector()
	m.AddListener("tok", l1)
	m.AddListener("tok", l2)

	waitFor(t, "connected", func() bool { return m.State("tok") == StateConnected })
	if n := d.dialCount(); n != 1 {
		t.Fatalf("dials = %d, want 1 for two listeners on one token", n)
	}

	// A third listener on an already-connected token attaches without
	// dialing again.
	l3, _ := collector()
	m.AddListener("tok", l3)
	time.Sleep(10 * time.Millisecond)
	if n := d.dialCount(); n != 1 {
		t.Fatalf("dials = %d after late listener, want 1", n)
	}
}

func TestDispatchAndFiltering(t *testing.T) {
	d := &scriptDialer{}
	m := newTestManager(d)

	l1, snap1 := collector()
	l2, snap2 := collector()
	m.AddListener("tok", l1)
	m.AddListener("tok", l2)

	waitFor(t, "connected", func() bool { return m.State("tok") == StateConnected })
	body := d.body(0)

	body.send(t, "data: {\"type\":\"connection_ack\",\"message\":\"connected\"}\n\n")
	body.send(t, "data: {\"type\":\"liveness_ping\"}\n\n")
	body.send(t, "data: {\"type\":\"totally_new_thing\"}\n\n")
	body.send(t, ": comment line\n")
	body.send(t, "data: {\"type\":\"job_completed\",\"videoId\":\"v1\",\"resultUrl\":\"https://x/v1.mp4\"}\n\n")

	waitFor(t, "both listeners to see 2 messages", func() bool {
		return len(snap1()) == 2 && len(snap2()) == 2
	})

	for _, msgs := range [][]Message{snap1(), snap2()} {
		if msgs[0].Type != TypeConnectionAck {
			t.Errorf("first message = %+v", msgs[0])
		}
		if msgs[1].Type != TypeJobCompleted || msgs[1].VideoID != "v1" {
			t.Errorf("second message = %+v", msgs[1])
		}
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	d := &scriptDialer{}
	m := newTestManager(d)

	fn, _ := collector()
	m.AddListener("tok", fn)
	waitFor(t, "connected", func() bool { return m.State("tok") == StateConnected })

	d.body(0).endStream()

	waitFor(t, "reconnected", func() bool {
		return d.dialCount() == 2 && m.State("tok") == StateConnected
	})
}

func TestOfflineAfterExhaustedAttempts(t *testing.T) {
	d := &scriptDialer{failures: 100}
	m := newTestManager(d)

	fn, snap := collector()
	m.AddListener("tok", fn)

	waitFor(t, "offline", func() bool { return m.State("tok") == StateOffline })
	if n := d.dialCount(); n != 5 {
		t.Errorf("dials = %d, want exactly 5 attempts", n)
	}

	waitFor(t, "offline notification", func() bool {
		msgs := snap()
		return len(msgs) == 1 && msgs[0].Type == TypeOffline
	})

	// No further attempts get scheduled on their own.
	time.Sleep(20 * time.Millisecond)
	if n := d.dialCount(); n != 5 {
		t.Errorf("dials = %d after going offline, want still 5", n)
	}
}

func TestManualReconnectResetsCounter(t *testing.T) {
	d := &scriptDialer{failures: 5}
	m := newTestManager(d)

	fn, _ := collector()
	m.AddListener("tok", fn)
	waitFor(t, "offline", func() bool { return m.State("tok") == StateOffline })

	m.Reconnect("tok") // 6th dial succeeds
	waitFor(t, "connected", func() bool { return m.State("tok") == StateConnected })
	if n := d.dialCount(); n != 6 {
		t.Errorf("dials = %d, want 6", n)
	}
}

func TestRemoveLastListenerClosesConnection(t *testing.T) {
	d := &scriptDialer{}
	m := newTestManager(d)

	fn, _ := collector()
	id := m.AddListener("tok", fn)
	waitFor(t, "connected", func() bool { return m.State("tok") == StateConnected })

	m.RemoveListener("tok", id)

	select {
	case <-d.body(0).closed:
	case <-time.After(time.Second):
		t.Fatal("physical connection not closed after last listener left")
	}
	if s := m.State("tok"); s != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s)
	}

	// Closing must not trigger the reconnect path.
	time.Sleep(20 * time.Millisecond)
	if n := d.dialCount(); n != 1 {
		t.Errorf("dials = %d after teardown, want 1", n)
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	d := &scriptDialer{failures: 1}
	m := newTestManager(d)
	m.Backoff = func(int) time.Duration { return time.Hour } // keep the timer pending

	fn, _ := collector()
	m.AddListener("tok", fn)
	waitFor(t, "reconnecting", func() bool { return m.State("tok") == StateReconnecting })

	m.Disconnect("tok")
	if s := m.State("tok"); s != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", s)
	}

	time.Sleep(20 * time.Millisecond)
	if n := d.dialCount(); n != 1 {
		t.Errorf("dials = %d after disconnect, want 1", n)
	}

	// Listeners survived the disconnect; manual reconnect re-dials.
	m.Reconnect("tok")
	waitFor(t, "connected", func() bool { return m.State("tok") == StateConnected })
}

func TestListenerPanicIsolated(t *testing.T) {
	d := &scriptDialer{}
	m := newTestManager(d)

	bad := func(Message) { panic("listener bug") }
	good, snap := collector()
	m.AddListener("tok", bad)
	m.AddListener("tok", good)

	waitFor(t, "connected", func() bool { return m.State("tok") == StateConnected })
	d.body(0).send(t, "data: {\"type\":\"job_failed\",\"videoId\":\"v1\",\"error\":\"boom\"}\n\n")

	waitFor(t, "good listener delivery", func() bool { return len(snap()) == 1 })
	if m.State("tok") != StateConnected {
		t.Error("listener panic must not kill the connection")
	}
}

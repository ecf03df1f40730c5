package session

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/srtsession/params"
	"github.com/zsiec/srtsession/transport"
	"github.com/zsiec/srtsession/transport/loopback"
)

func newRuntime(t *testing.T, opts ...loopback.Option) (*loopback.Transport, *transport.Runtime) {
	t.Helper()
	tr := loopback.New(opts...)
	return tr, transport.NewRuntime(tr, nil)
}

func newSession(t *testing.T, rt *transport.Runtime, role Role, uri string, obs Observer) *Session {
	t.Helper()
	s, err := New(Config{Role: role, Runtime: rt, Observer: obs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Destroy)
	if uri != "" {
		if err := s.SetURI(uri); err != nil {
			t.Fatalf("SetURI(%q): %v", uri, err)
		}
	}
	return s
}

func open(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open %s: %v", s.URI(), err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readMsg(t *testing.T, s *Session) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	buf := make([]byte, 2048)
	n, err := s.Read(ctx, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return buf[:n]
}

func write(t *testing.T, s *Session, headers [][]byte, payload []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	n, err := s.Write(ctx, headers, payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Write = %d, want %d", n, len(payload))
	}
}

func TestRuntimeRefcount(t *testing.T) {
	t.Parallel()

	tr, rt := newRuntime(t)
	a, err := New(Config{Role: RoleSource, Runtime: rt})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(Config{Role: RoleSink, Runtime: rt})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := tr.Startups(); got != 1 {
		t.Errorf("startups = %d, want 1", got)
	}

	a.Destroy()
	a.Destroy()
	if got := tr.Cleanups(); got != 0 {
		t.Errorf("cleanups after first destroy = %d, want 0", got)
	}
	b.Destroy()
	if got := tr.Cleanups(); got != 1 {
		t.Errorf("cleanups = %d, want 1", got)
	}
	if got := rt.Refs(); got != 0 {
		t.Errorf("refs = %d, want 0", got)
	}
}

func TestNewRequiresRuntime(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Role: RoleSource}); !errors.Is(err, ErrLibraryInit) {
		t.Errorf("New without runtime = %v, want LibraryInit", err)
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	s := newSession(t, rt, RoleSource, "", nil)

	if got := s.URI(); got != params.DefaultURI {
		t.Errorf("URI = %q", got)
	}
	if !s.WaitForConnection() || !s.AutoReconnect() || s.Authentication() {
		t.Error("unexpected flag defaults")
	}
	if got := s.PollTimeout(); got != params.DefaultPollTimeout {
		t.Errorf("PollTimeout = %v", got)
	}
	if got := s.Latency(); got != 125*time.Millisecond {
		t.Errorf("Latency = %v", got)
	}
	if got := s.Mode(); got != params.ModeCaller {
		t.Errorf("Mode = %v", got)
	}
	if s.Opened() || s.Socket().Valid() {
		t.Error("new session should be closed")
	}
	if !s.Flushing() {
		t.Error("new session should be flushing")
	}
}

func TestIOBeforeOpenIsFlushing(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	src := newSession(t, rt, RoleSource, "srt://127.0.0.1:7001", nil)
	sink := newSession(t, rt, RoleSink, "srt://127.0.0.1:7001", nil)

	if n, err := src.Read(context.Background(), make([]byte, 16)); n != 0 || err != nil {
		t.Errorf("Read = %d, %v; want 0, nil", n, err)
	}
	if n, err := sink.Write(context.Background(), nil, []byte("x")); n != 0 || err != nil {
		t.Errorf("Write = %d, %v; want 0, nil", n, err)
	}
}

func TestWrongDirectionIsBadState(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	src := newSession(t, rt, RoleSource, "", nil)
	sink := newSession(t, rt, RoleSink, "", nil)

	if _, err := src.Write(context.Background(), nil, []byte("x")); !errors.Is(err, ErrBadState) {
		t.Errorf("source Write = %v", err)
	}
	if _, err := sink.Read(context.Background(), make([]byte, 1)); !errors.Is(err, ErrBadState) {
		t.Errorf("sink Read = %v", err)
	}
}

func TestSetURI(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	s := newSession(t, rt, RoleSink, "", nil)

	if err := s.SetURI("udp://127.0.0.1:1234"); !errors.Is(err, ErrBadURI) {
		t.Errorf("SetURI(udp) = %v, want BadURI", err)
	}
	if err := s.SetURI("srt://:7010?latency=300&poll-timeout=50"); err != nil {
		t.Fatalf("SetURI: %v", err)
	}
	if got := s.Mode(); got != params.ModeListener {
		t.Errorf("Mode = %v", got)
	}
	if got := s.LocalPort(); got != 7010 {
		t.Errorf("LocalPort = %d", got)
	}
	if got := s.Latency(); got != 300*time.Millisecond {
		t.Errorf("Latency = %v", got)
	}
	if got := s.PollTimeout(); got != 50*time.Millisecond {
		t.Errorf("PollTimeout = %v", got)
	}

	open(t, s)
	if err := s.SetURI("srt://127.0.0.1:7011"); !errors.Is(err, ErrBadState) {
		t.Errorf("SetURI while open = %v, want BadState", err)
	}
	s.Close()
	if err := s.SetURI("srt://127.0.0.1:7011"); err != nil {
		t.Errorf("SetURI after close = %v", err)
	}
}

func TestSettersAndParams(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	s := newSession(t, rt, RoleSource, "srt://127.0.0.1:7001", nil)

	if err := s.SetMode(params.ModeRendezvous); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if got := s.LocalAddress(); got != "127.0.0.1" {
		t.Errorf("LocalAddress after rendezvous = %q", got)
	}
	if err := s.SetPassphrase("0123456789"); err != nil {
		t.Fatalf("SetPassphrase: %v", err)
	}
	if _, ok := s.Param(params.KeyPassphrase); ok {
		t.Error("passphrase should not be readable")
	}
	if err := s.SetKeyLength(params.KeyLength(24)); err != nil {
		t.Fatalf("SetKeyLength: %v", err)
	}
	if got := s.KeyLength(); got != 24 {
		t.Errorf("KeyLength = %d", got)
	}
	if err := s.SetKeyLength(params.KeyLength(20)); !errors.Is(err, ErrLibrarySettings) {
		t.Errorf("SetKeyLength(20) = %v", err)
	}
	if err := s.SetPollTimeout(-time.Second); err != nil {
		t.Fatalf("SetPollTimeout: %v", err)
	}
	if got := s.PollTimeout(); got >= 0 {
		t.Errorf("PollTimeout = %v, want negative", got)
	}
	if err := s.SetParam("no-such-option", 1); !errors.Is(err, ErrLibrarySettings) {
		t.Errorf("SetParam(unknown) = %v", err)
	}
	if err := s.SetStreamID("live/feed"); err != nil {
		t.Fatalf("SetStreamID: %v", err)
	}
	if got := s.StreamID(); got != "live/feed" {
		t.Errorf("StreamID = %q", got)
	}
}

func TestListenerSinkToCallerSource(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	sink := newSession(t, rt, RoleSink, "srt://:7001", nil)
	src := newSession(t, rt, RoleSource, "srt://127.0.0.1:7001", nil)
	open(t, sink)
	open(t, src)

	write(t, sink, nil, []byte("hello"))
	if got := readMsg(t, src); string(got) != "hello" {
		t.Fatalf("Read = %q", got)
	}

	st := src.Stats()
	if st.Stats == nil {
		t.Fatal("caller stats missing socket counters")
	}
	if st.PacketsReceived != 1 {
		t.Errorf("packets-received = %d, want 1", st.PacketsReceived)
	}
	if st.BytesReceivedTotal == nil || *st.BytesReceivedTotal != 5 {
		t.Errorf("bytes-received-total = %v", st.BytesReceivedTotal)
	}

	sst := sink.Stats()
	if sst.Stats != nil {
		t.Error("listener stats should not carry socket counters")
	}
	if len(sst.Callers) != 1 {
		t.Fatalf("callers = %d, want 1", len(sst.Callers))
	}
	if sst.Callers[0].Address == "" || sst.Callers[0].PacketsSent != 1 {
		t.Errorf("caller stats = %+v", sst.Callers[0])
	}
	if got := sst.BytesTotal(); got != 5 {
		t.Errorf("bytes-sent-total = %d", got)
	}
}

func TestListenerSourceFromCallerSink(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	log := &EventLog{}
	src := newSession(t, rt, RoleSource, "srt://0.0.0.0:7002?mode=listener", log)
	sink := newSession(t, rt, RoleSink, "srt://127.0.0.1:7002", nil)
	open(t, src)
	open(t, sink)

	write(t, sink, nil, []byte("payload"))
	if got := readMsg(t, src); string(got) != "payload" {
		t.Fatalf("Read = %q", got)
	}
	if got := log.Count(EventCallerAdded); got != 1 {
		t.Errorf("caller-added = %d", got)
	}
	if got := log.Count(EventCallerConnecting); got != 0 {
		t.Errorf("caller-connecting without authentication = %d", got)
	}
}

func TestHeadersOncePerConnection(t *testing.T) {
	t.Parallel()

	for _, listenerSink := range []bool{true, false} {
		_, rt := newRuntime(t)
		var sink, src *Session
		if listenerSink {
			sink = newSession(t, rt, RoleSink, "srt://:7003", nil)
			src = newSession(t, rt, RoleSource, "srt://127.0.0.1:7003", nil)
			open(t, sink)
			open(t, src)
		} else {
			src = newSession(t, rt, RoleSource, "srt://:7003", nil)
			sink = newSession(t, rt, RoleSink, "srt://127.0.0.1:7003", nil)
			open(t, src)
			open(t, sink)
		}

		headers := [][]byte{[]byte("pat"), []byte("pmt")}
		write(t, sink, headers, []byte("one"))
		write(t, sink, headers, []byte("two"))

		var got []string
		for range 4 {
			got = append(got, string(readMsg(t, src)))
		}
		want := []string{"pat", "pmt", "one", "two"}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("listenerSink=%v: message %d = %q, want %q", listenerSink, i, got[i], want[i])
			}
		}
	}
}

func TestPayloadSplitIntoMessages(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	src := newSession(t, rt, RoleSource, "srt://:7004", nil)
	sink := newSession(t, rt, RoleSink, "srt://127.0.0.1:7004", nil)
	open(t, src)
	open(t, sink)

	payload := bytes.Repeat([]byte{0x47}, 3000)
	write(t, sink, nil, payload)

	for _, want := range []int{1316, 1316, 368} {
		if got := len(readMsg(t, src)); got != want {
			t.Errorf("message length = %d, want %d", got, want)
		}
	}
	if got := sink.BytesTotal(); got != 3000 {
		t.Errorf("BytesTotal = %d", got)
	}
}

func TestRendezvous(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	sink := newSession(t, rt, RoleSink, "srt://127.0.0.1:7302?mode=rendezvous&localport=7301", nil)
	src := newSession(t, rt, RoleSource, "srt://127.0.0.1:7301?mode=rendezvous&localport=7302", nil)
	open(t, sink)
	open(t, src)

	write(t, sink, nil, []byte("rv"))
	if got := readMsg(t, src); string(got) != "rv" {
		t.Fatalf("Read = %q", got)
	}
}

func TestAuthenticationRejectsCaller(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	log := &EventLog{Authorize: func(_ net.Addr, streamID string) bool {
		return streamID == "good"
	}}
	src := newSession(t, rt, RoleSource, "srt://:7005", log)
	src.SetAuthentication(true)
	open(t, src)

	bad := newSession(t, rt, RoleSink, "srt://127.0.0.1:7005?streamid=bad", nil)
	bad.SetAutoReconnect(false)
	open(t, bad)

	_, err := bad.Write(context.Background(), nil, []byte("x"))
	if !errors.Is(err, ErrResourceWrite) {
		t.Errorf("rejected Write = %v, want ResourceWrite", err)
	}
	if got := log.Count(EventCallerRejected); got != 1 {
		t.Fatalf("caller-rejected = %d, want 1", got)
	}
	for _, e := range log.Events() {
		if e.Type == EventCallerRejected && e.StreamID != "bad" {
			t.Errorf("rejected stream id = %q", e.StreamID)
		}
	}

	good := newSession(t, rt, RoleSink, "srt://127.0.0.1:7005?streamid=good", nil)
	open(t, good)
	write(t, good, nil, []byte("ok"))
	if got := readMsg(t, src); string(got) != "ok" {
		t.Errorf("Read = %q", got)
	}
	if got := log.Count(EventCallerConnecting); got != 2 {
		t.Errorf("caller-connecting = %d, want 2", got)
	}
}

func TestPassphraseMismatchNotAuthorized(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		listener string
		caller   string
	}{
		{"mismatch", "?passphrase=aaaaaaaaaa", "?passphrase=bbbbbbbbbb"},
		{"caller only", "", "?passphrase=bbbbbbbbbb"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, rt := newRuntime(t)
			sink := newSession(t, rt, RoleSink, "srt://:7006"+tc.listener, nil)
			src := newSession(t, rt, RoleSource, "srt://127.0.0.1:7006"+tc.caller, nil)
			open(t, sink)
			open(t, src)

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_, err := src.Read(ctx, make([]byte, 16))
			if !errors.Is(err, ErrNotAuthorized) {
				t.Errorf("Read = %v, want NotAuthorized", err)
			}
		})
	}
}

func TestUnlockInterruptsBlockedRead(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	src := newSession(t, rt, RoleSource, "srt://:7007", nil)
	open(t, src)

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := src.Read(context.Background(), make([]byte, 16))
		done <- result{n, err}
	}()

	time.Sleep(20 * time.Millisecond)
	src.Unlock()

	select {
	case r := <-done:
		if r.n != 0 || r.err != nil {
			t.Errorf("interrupted Read = %d, %v; want 0, nil", r.n, r.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Read not interrupted")
	}
	if !src.Flushing() {
		t.Error("Flushing = false after Unlock")
	}
	src.UnlockStop()
	if src.Flushing() {
		t.Error("Flushing = true after UnlockStop")
	}
}

func TestContextCancelReturnsError(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	sink := newSession(t, rt, RoleSink, "srt://:7008", nil)
	open(t, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	n, err := sink.Write(ctx, nil, []byte("x"))
	if n != 0 || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Write = %d, %v; want 0, DeadlineExceeded", n, err)
	}
}

func TestCloseRemovesEveryCaller(t *testing.T) {
	t.Parallel()

	tr, rt := newRuntime(t)
	log := &EventLog{}
	sink := newSession(t, rt, RoleSink, "srt://:7009", log)
	open(t, sink)

	for range 2 {
		open(t, newSession(t, rt, RoleSource, "srt://127.0.0.1:7009", nil))
	}
	eventually(t, "two callers", func() bool { return sink.CallerCount() == 2 })

	lsock := sink.Socket()
	sink.Close()
	sink.Close()

	if got := log.Count(EventCallerRemoved); got != 2 {
		t.Errorf("caller-removed = %d, want 2", got)
	}
	if sink.CallerCount() != 0 {
		t.Error("registry not empty after Close")
	}
	if sink.Socket().Valid() {
		t.Error("socket still valid after Close")
	}
	if got := tr.State(lsock); got != transport.StateNonExist {
		t.Errorf("listening socket state = %s", got)
	}
}

func TestFanOutDropsFailedCaller(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	log := &EventLog{}
	sink := newSession(t, rt, RoleSink, "srt://:7012", log)
	open(t, sink)

	a := newSession(t, rt, RoleSource, "srt://127.0.0.1:7012", nil)
	b := newSession(t, rt, RoleSource, "srt://127.0.0.1:7012", nil)
	open(t, a)
	open(t, b)
	eventually(t, "two callers", func() bool { return sink.CallerCount() == 2 })

	a.Close()
	write(t, sink, nil, []byte("still here"))

	if got := sink.CallerCount(); got != 1 {
		t.Errorf("callers = %d, want 1", got)
	}
	if got := log.Count(EventCallerRemoved); got != 1 {
		t.Errorf("caller-removed = %d, want 1", got)
	}
	if got := readMsg(t, b); string(got) != "still here" {
		t.Errorf("Read = %q", got)
	}
}

func TestAutoReconnect(t *testing.T) {
	t.Parallel()

	tr, rt := newRuntime(t)
	sink := newSession(t, rt, RoleSink, "srt://:7013", nil)
	src := newSession(t, rt, RoleSource, "srt://127.0.0.1:7013", nil)
	open(t, sink)
	open(t, src)
	eventually(t, "caller", func() bool { return sink.CallerCount() == 1 })

	first := src.Socket()
	tr.Break(first)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := src.Read(ctx, buf)
		if err != nil {
			t.Errorf("Read after break: %v", err)
		}
		got <- buf[:n]
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(5 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				sink.Write(ctx, nil, []byte("again"))
			}
		}
	}()

	select {
	case msg := <-got:
		if string(msg) != "again" {
			t.Errorf("Read = %q", msg)
		}
	case <-ctx.Done():
		t.Fatal("no data after reconnect")
	}
	cancel()
	wg.Wait()

	if src.Socket() == first {
		t.Error("socket not replaced by reconnect")
	}
}

func TestBrokenWithoutAutoReconnect(t *testing.T) {
	t.Parallel()

	tr, rt := newRuntime(t)
	sink := newSession(t, rt, RoleSink, "srt://:7014", nil)
	src := newSession(t, rt, RoleSource, "srt://127.0.0.1:7014", nil)
	src.SetAutoReconnect(false)
	open(t, sink)
	open(t, src)

	tr.Break(src.Socket())
	_, err := src.Read(context.Background(), make([]byte, 16))
	if !errors.Is(err, ErrResourceRead) {
		t.Errorf("Read = %v, want ResourceRead", err)
	}
}

func TestListenerReadAfterCallerLeft(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	src := newSession(t, rt, RoleSource, "srt://:7015", nil)
	sink := newSession(t, rt, RoleSink, "srt://127.0.0.1:7015", nil)
	open(t, src)
	open(t, sink)
	eventually(t, "caller", func() bool { return src.CallerCount() == 1 })

	sink.Close()
	n, err := src.Read(context.Background(), make([]byte, 16))
	if n != 0 || err != nil {
		t.Errorf("Read = %d, %v; want 0, nil", n, err)
	}
}

func TestDropWhileConnectingWithoutWaiting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		uri     string
		headers [][]byte
	}{
		{"payload only", "srt://127.0.0.1:7016", nil},
		{"with headers", "srt://127.0.0.1:7019", [][]byte{[]byte("hdr")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, rt := newRuntime(t)
			sink := newSession(t, rt, RoleSink, tt.uri, nil)
			sink.SetWaitForConnection(false)
			open(t, sink)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			n, err := sink.Write(ctx, tt.headers, []byte("dropped"))
			if err != nil || n != len("dropped") {
				t.Errorf("Write = %d, %v", n, err)
			}
			if got := sink.Stats().BytesTotal(); got != 0 {
				t.Errorf("bytes-sent-total = %d, want 0", got)
			}
		})
	}
}

func TestListenerWriteWithoutCallersDoesNotBlock(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	sink := newSession(t, rt, RoleSink, "srt://:7018", nil)
	sink.SetWaitForConnection(false)
	open(t, sink)

	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := sink.Write(context.Background(), nil, []byte("nobody"))
		if err != nil || n != len("nobody") {
			t.Errorf("Write = %d, %v", n, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		sink.Unlock()
		t.Fatal("Write blocked with no callers")
	}
}

func TestListenerReadReportsPollFailure(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	src := newSession(t, rt, RoleSource, "srt://:7023", nil)
	sink := newSession(t, rt, RoleSink, "srt://127.0.0.1:7023", nil)
	open(t, src)
	open(t, sink)
	eventually(t, "caller", func() bool { return src.CallerCount() == 1 })

	src.regMu.Lock()
	c := src.callers[0]
	src.regMu.Unlock()
	c.poller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	n, err := src.Read(ctx, make([]byte, 16))
	if n != 0 || !errors.Is(err, ErrResourceRead) {
		t.Errorf("Read = %d, %v; want 0, ResourceRead", n, err)
	}
	if errors.Is(err, errCallerGone) {
		t.Errorf("poll failure reported as a vanished caller: %v", err)
	}
}

func TestOpenReportsStartupFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("no sockets for you")
	_, rt := newRuntime(t, loopback.WithStartupError(boom))
	s := newSession(t, rt, RoleSource, "srt://127.0.0.1:7024", nil)

	err := s.Open(context.Background())
	if !errors.Is(err, ErrLibraryInit) || !errors.Is(err, boom) {
		t.Errorf("Open = %v, want LibraryInit wrapping %v", err, boom)
	}
	if s.Opened() {
		t.Error("session opened after failed startup")
	}
	s.Destroy()
	if got := rt.Refs(); got != 0 {
		t.Errorf("refs = %d, want 0", got)
	}
}

func TestOpenWithCallbacks(t *testing.T) {
	t.Parallel()

	_, rt := newRuntime(t)
	log := &EventLog{}
	sink := newSession(t, rt, RoleSink, "srt://:7017", log)

	var mu sync.Mutex
	var added, removed int
	err := sink.OpenWithCallbacks(context.Background(),
		func(net.Addr) { mu.Lock(); added++; mu.Unlock() },
		func(net.Addr) { mu.Lock(); removed++; mu.Unlock() })
	if err != nil {
		t.Fatalf("OpenWithCallbacks: %v", err)
	}
	open(t, newSession(t, rt, RoleSource, "srt://127.0.0.1:7017", nil))
	eventually(t, "caller", func() bool { return sink.CallerCount() == 1 })
	sink.Close()

	mu.Lock()
	defer mu.Unlock()
	if added != 1 || removed != 1 {
		t.Errorf("callbacks added=%d removed=%d, want 1 and 1", added, removed)
	}
	if n := len(log.Events()); n != 0 {
		t.Errorf("observer saw %d events, want 0", n)
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []loopback.Option
		uri  string
		pre  string
		want error
	}{
		{"ipv6 on ipv4-only transport", []loopback.Option{loopback.WithIPv4Only()}, "srt://[::1]:7020", "", ErrResourceOpenRead},
		{"port in use", nil, "srt://:7021", "srt://:7021", ErrResourceOpenReadWrite},
		{"unresolvable host", nil, "srt://does-not-exist.invalid:7022", "", ErrResourceOpenRead},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, rt := newRuntime(t, tc.opts...)
			if tc.pre != "" {
				open(t, newSession(t, rt, RoleSink, tc.pre, nil))
			}
			s := newSession(t, rt, RoleSink, tc.uri, nil)
			err := s.Open(context.Background())
			if !errors.Is(err, tc.want) {
				t.Errorf("Open = %v, want %v", err, tc.want)
			}
			if s.Opened() || s.Socket().Valid() {
				t.Error("failed Open left the session open")
			}
		})
	}
}

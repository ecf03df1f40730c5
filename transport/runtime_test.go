package transport

import (
	"sync"
	"sync/atomic"
	"testing"
)

// countingProvider records Startup/Cleanup calls; every other method is
// unused by Runtime.
type countingProvider struct {
	Provider
	startups atomic.Int32
	cleanups atomic.Int32
}

func (c *countingProvider) Startup() error { c.startups.Add(1); return nil }
func (c *countingProvider) Cleanup() error { c.cleanups.Add(1); return nil }

func TestRuntimeStartsOnceAndCleansUpLast(t *testing.T) {
	t.Parallel()

	p := &countingProvider{}
	rt := NewRuntime(p, nil)

	const n = 5
	for i := 0; i < n; i++ {
		rt.Acquire()
	}
	if got := p.startups.Load(); got != 1 {
		t.Fatalf("startups = %d, want 1", got)
	}

	for i := 0; i < n-1; i++ {
		rt.Release()
		if got := p.cleanups.Load(); got != 0 {
			t.Fatalf("cleanup called after %d of %d releases", i+1, n)
		}
	}
	rt.Release()
	if got := p.cleanups.Load(); got != 1 {
		t.Fatalf("cleanups = %d, want 1", got)
	}
	if rt.Refs() != 0 {
		t.Errorf("Refs = %d, want 0", rt.Refs())
	}
}

func TestRuntimeConcurrentAcquire(t *testing.T) {
	t.Parallel()

	p := &countingProvider{}
	rt := NewRuntime(p, nil)
	rt.Acquire()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.Acquire()
			rt.Release()
		}()
	}
	wg.Wait()

	if got := p.startups.Load(); got != 1 {
		t.Errorf("startups = %d, want 1", got)
	}
	if got := p.cleanups.Load(); got != 0 {
		t.Errorf("cleanups = %d while a reference is held", got)
	}
	rt.Release()
	if got := p.cleanups.Load(); got != 1 {
		t.Errorf("cleanups = %d, want 1", got)
	}
}

func TestRuntimeExtraReleaseIsIgnored(t *testing.T) {
	t.Parallel()

	p := &countingProvider{}
	rt := NewRuntime(p, nil)
	rt.Release()
	if rt.Refs() != 0 || p.cleanups.Load() != 0 {
		t.Errorf("unbalanced Release changed state: refs=%d cleanups=%d", rt.Refs(), p.cleanups.Load())
	}
}

func TestRejectReasonIsAuthentication(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason RejectReason
		want   bool
	}{
		{RejectBadSecret, true},
		{RejectUnsecure, true},
		{RejectPeer, false},
		{RejectTimeout, false},
		{RejectUnknown, false},
	}
	for _, tc := range tests {
		if got := tc.reason.IsAuthentication(); got != tc.want {
			t.Errorf("%v.IsAuthentication() = %v, want %v", tc.reason, got, tc.want)
		}
	}
}

func TestLookupOption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  Option
		kind Kind
	}{
		{"latency", OptLatency, KindInt},
		{"maxbw", OptMaxBW, KindInt64},
		{"streamid", OptStreamID, KindString},
		{"tlpktdrop", OptTLPktDrop, KindBool},
		{"retransmitalgo", OptRetransmitAlgo, KindInt},
	}
	for _, tc := range tests {
		o, ok := LookupOption(tc.name)
		if !ok || o != tc.opt || o.Kind() != tc.kind {
			t.Errorf("LookupOption(%q) = %v (%v), %v; want %v (%v)", tc.name, o, o.Kind(), ok, tc.opt, tc.kind)
		}
	}

	if _, ok := LookupOption("sender"); ok {
		t.Errorf("internal option sender should not be settable by name")
	}
	if err := CheckValue(OptLatency, "300"); err == nil {
		t.Errorf("CheckValue accepted a string for an int option")
	}
}

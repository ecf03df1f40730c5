package statsapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/zsiec/srtsession/session"
	"github.com/zsiec/srtsession/transport"
)

type fakeSource struct {
	uri  string
	role session.Role
	open bool
	rep  session.StatsReport
}

func (f *fakeSource) URI() string                { return f.uri }
func (f *fakeSource) Role() session.Role         { return f.role }
func (f *fakeSource) Opened() bool               { return f.open }
func (f *fakeSource) CallerCount() int           { return len(f.rep.Callers) }
func (f *fakeSource) Stats() session.StatsReport { return f.rep }

func u64(v uint64) *uint64 { return &v }

func callerSource() *fakeSource {
	return &fakeSource{
		uri:  "srt://10.0.0.1:9000",
		role: session.RoleSink,
		open: true,
		rep: session.StatsReport{
			Stats: &transport.Stats{
				PacketsSent:          100,
				PacketsSentLost:      2,
				PacketsRetransmitted: 3,
				RTTMs:                20,
			},
			BytesSentTotal: u64(131600),
		},
	}
}

func listenerSource() *fakeSource {
	return &fakeSource{
		uri:  "srt://:9001",
		role: session.RoleSource,
		open: true,
		rep: session.StatsReport{
			Callers: []session.CallerStats{
				{Stats: transport.Stats{PacketsReceived: 10, PacketsReceivedLost: 1, RTTMs: 5}, Address: "10.0.0.2:1000"},
				{Stats: transport.Stats{PacketsReceived: 30, RTTMs: 40}, Address: "10.0.0.3:1000"},
			},
			BytesReceivedTotal: u64(52640),
		},
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := reg.Add("out", callerSource())
	b := reg.Add("in", listenerSource())
	if a == b {
		t.Fatal("ids collide")
	}

	list := reg.List()
	if len(list) != 2 || list[0].Name != "out" || list[1].Name != "in" {
		t.Fatalf("List = %+v", list)
	}
	if list[1].Callers != 2 || list[1].Role != "source" {
		t.Errorf("listener summary = %+v", list[1])
	}

	snap, ok := reg.Get(a)
	if !ok || snap.Stats.Stats == nil || snap.Stats.Stats.PacketsSent != 100 {
		t.Errorf("Get = %+v, %v", snap, ok)
	}

	reg.Remove(a)
	reg.Remove("unknown")
	if _, ok := reg.Get(a); ok {
		t.Error("removed session still present")
	}
	if got := len(reg.List()); got != 1 {
		t.Errorf("List after Remove = %d entries", got)
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	id := reg.Add("in", listenerSource())
	srv := httptest.NewServer(Handler(reg, nil))
	defer srv.Close()

	tests := []struct {
		name string
		path string
		code int
		want string
	}{
		{"list", "/api/sessions", http.StatusOK, `"name":"in"`},
		{"get", "/api/sessions/" + id, http.StatusOK, `"caller-address":"10.0.0.2:1000"`},
		{"get total", "/api/sessions/" + id, http.StatusOK, `"bytes-received-total":52640`},
		{"missing", "/api/sessions/nope", http.StatusNotFound, `"error":"session not found"`},
		{"metrics", "/metrics", http.StatusOK, `srt_session_callers{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.code {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.code)
			}
			var body strings.Builder
			if _, err := body.ReadFrom(resp.Body); err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(body.String(), tt.want) {
				t.Errorf("body %s does not contain %s", body.String(), tt.want)
			}
		})
	}
}

func TestHandlerListDecodes(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Add("out", callerSource())
	rec := httptest.NewRecorder()
	Handler(reg, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	var list []Summary
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].URI != "srt://10.0.0.1:9000" || !list[0].Open {
		t.Errorf("list = %+v", list)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestCollector(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Add("out", callerSource())
	reg.Add("in", listenerSource())

	prom := prometheus.NewRegistry()
	prom.MustRegister(NewCollector(reg))
	families, err := prom.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	value := func(name, session string) float64 {
		t.Helper()
		for _, f := range families {
			if f.GetName() != name {
				continue
			}
			for _, m := range f.GetMetric() {
				if label(m, "name") == session {
					if m.GetCounter() != nil {
						return m.GetCounter().GetValue()
					}
					return m.GetGauge().GetValue()
				}
			}
		}
		t.Fatalf("no %s for %s", name, session)
		return 0
	}

	tests := []struct {
		metric  string
		session string
		want    float64
	}{
		{"srt_session_bytes_total", "out", 131600},
		{"srt_session_packets_sent_total", "out", 100},
		{"srt_session_packets_lost_total", "out", 2},
		{"srt_session_packets_retransmitted_total", "out", 3},
		{"srt_session_rtt_seconds", "out", 0.02},
		{"srt_session_callers", "out", 0},
		{"srt_session_bytes_total", "in", 52640},
		{"srt_session_packets_received_total", "in", 40},
		{"srt_session_packets_lost_total", "in", 1},
		{"srt_session_rtt_seconds", "in", 0.04},
		{"srt_session_callers", "in", 2},
		{"srt_session_open", "in", 1},
	}
	for _, tt := range tests {
		if got := value(tt.metric, tt.session); got != tt.want {
			t.Errorf("%s{name=%q} = %v, want %v", tt.metric, tt.session, got, tt.want)
		}
	}
}

func label(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestNewServerValidates(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(ServerConfig{Addr: ":0", Registry: NewRegistry()}); err == nil {
		t.Error("NewServer without Cert succeeded")
	}
}

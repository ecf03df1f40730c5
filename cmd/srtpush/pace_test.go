package main

import (
	"testing"
	"time"
)

func TestByteRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		size     int
		bitrate  int
		duration time.Duration
		want     float64
		wantErr  bool
	}{
		{"bitrate wins", 1000, 8000, time.Second, 1000, false},
		{"from duration", 10_000, 0, 10 * time.Second, 1000, false},
		{"nothing", 0, 0, 0, 0, true},
		{"empty file", 0, 0, time.Second, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := byteRate(tt.size, tt.bitrate, tt.duration)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("byteRate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPacer(t *testing.T) {
	t.Parallel()

	clock := time.Unix(0, 0)
	p := newPacer(1000, func() time.Time { return clock })

	if d := p.advance(500); d != 500*time.Millisecond {
		t.Errorf("first wait = %v, want 500ms", d)
	}
	clock = clock.Add(2 * time.Second)
	if d := p.advance(500); d > 0 {
		t.Errorf("wait when behind = %v, want <= 0", d)
	}
	if d := p.advance(1500); d != 500*time.Millisecond {
		t.Errorf("wait after catching up = %v, want 500ms", d)
	}
}

package mpegts

import (
	"errors"
	"testing"
)

func TestSectionCRC(t *testing.T) {
	t.Parallel()

	if got := SectionCRC([]byte("123456789")); got != 0x0376E6E7 {
		t.Errorf("SectionCRC(check string) = %#08x, want 0x0376e6e7", got)
	}
	if got := SectionCRC(AppendSectionCRC([]byte{0x00, 0xB0, 0x0D, 0x00, 0x01})); got != 0 {
		t.Errorf("CRC over a section with its CRC = %#08x, want 0", got)
	}
}

func TestCheckSection(t *testing.T) {
	t.Parallel()

	good := AppendSectionCRC([]byte{0x02, 0xB0, 0x12, 0x00, 0x01, 0xC1, 0x00, 0x00})
	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xFF

	tests := []struct {
		name string
		data []byte
		ok   bool
	}{
		{"valid", good, true},
		{"flipped crc", bad, false},
		{"too short", []byte{0x00, 0x01}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := checkSection(tt.data)
			if tt.ok != (err == nil) {
				t.Fatalf("checkSection = %v, want ok=%v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrSectionCRC) {
				t.Errorf("checkSection = %v, want ErrSectionCRC", err)
			}
		})
	}

	if _, err := parsePATSection(bad); !errors.Is(err, ErrSectionCRC) {
		t.Errorf("parsePATSection(bad CRC) = %v, want ErrSectionCRC", err)
	}
}

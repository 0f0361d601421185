package playback

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		size      int64
		wantFirst int64
		wantLast  int64
		wantOK    bool
		wantErr   error
	}{
		{"no header", "", 1000, 0, 0, false, nil},
		{"whole file", "bytes=0-999", 1000, 0, 999, true, nil},
		{"open ended", "bytes=500-", 1000, 500, 999, true, nil},
		{"suffix", "bytes=-500", 1000, 500, 999, true, nil},
		{"one byte", "bytes=0-0", 1000, 0, 0, true, nil},
		{"end clamped", "bytes=0-2000", 1000, 0, 999, true, nil},
		{"suffix longer than file", "bytes=-2000", 500, 0, 499, true, nil},
		{"first of several", "bytes=0-99, 200-299", 1000, 0, 99, true, nil},

		{"start past end", "bytes=1000-", 1000, 0, 0, false, ErrUnsatisfiable},
		{"reversed", "bytes=200-100", 1000, 0, 0, false, ErrUnsatisfiable},
		{"no unit", "0-100", 1000, 0, 0, false, ErrInvalidRange},
		{"wrong unit", "items=0-100", 1000, 0, 0, false, ErrInvalidRange},
		{"no dash", "bytes=100", 1000, 0, 0, false, ErrInvalidRange},
		{"bad start", "bytes=x-100", 1000, 0, 0, false, ErrInvalidRange},
		{"bad end", "bytes=0-y", 1000, 0, 0, false, ErrInvalidRange},
		{"zero suffix", "bytes=-0", 1000, 0, 0, false, ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ParseRange(tt.header, tt.size)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseRange() error = %v, want %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Fatalf("ParseRange() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (got.First != tt.wantFirst || got.Last != tt.wantLast) {
				t.Errorf("ParseRange() = %d-%d, want %d-%d", got.First, got.Last, tt.wantFirst, tt.wantLast)
			}
		})
	}
}

func TestByteRange(t *testing.T) {
	r := ByteRange{First: 100, Last: 199}
	if r.Length() != 100 {
		t.Errorf("Length() = %d, want 100", r.Length())
	}
	if got := r.Header(1000); got != "bytes 100-199/1000" {
		t.Errorf("Header() = %q", got)
	}
}

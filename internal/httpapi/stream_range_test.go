package httpapi

import "testing"

func TestParseHeaderRange(t *testing.T) {
	cases := []struct {
		name      string
		header    string
		size      int
		wantStart int
		wantEnd   int
		wantOK    bool
	}{
		{"simple range", "bytes=0-9", 20, 0, 9, true},
		{"open-ended range", "bytes=5-", 20, 5, 19, true},
		{"clamped end", "bytes=5-100", 20, 5, 19, true},
		{"start past size", "bytes=20-25", 20, 0, 0, false},
		{"suffix range unsupported", "bytes=-10", 20, 0, 0, false},
		{"not a byte range", "items=0-1", 20, 0, 0, false},
		{"end before start", "bytes=10-5", 20, 0, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end, ok := parseHeaderRange(tc.header, tc.size)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if start != tc.wantStart || end != tc.wantEnd {
				t.Fatalf("got (%d,%d), want (%d,%d)", start, end, tc.wantStart, tc.wantEnd)
			}
		})
	}
}

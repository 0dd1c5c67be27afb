package budget

import "testing"

func TestToMinor(t *testing.T) {
	tests := []struct {
		major float64
		want  int64
	}{
		{45, 4500},
		{50 * 1.1, 5500},
		{0.29, 29},
		{5, 500},
		{12.349, 1234},
		{99.999, 9999},
		{4.35, 435}, // 4.35*100 is 434.99999999999994 in binary
		{-1.005, -100},
	}
	for _, tt := range tests {
		if got := ToMinor(tt.major); got != tt.want {
			t.Errorf("ToMinor(%v) = %d, want %d", tt.major, got, tt.want)
		}
	}
}

func TestFromMinor(t *testing.T) {
	if got := FromMinor(5000); got != 50 {
		t.Errorf("FromMinor(5000) = %v, want 50", got)
	}
	if got := FromMinor(1234); got != 12.34 {
		t.Errorf("FromMinor(1234) = %v, want 12.34", got)
	}
}

func TestParseMinor(t *testing.T) {
	got, err := ParseMinor(" 5000 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5000 {
		t.Errorf("ParseMinor = %d, want 5000", got)
	}

	for _, bad := range []string{"", "abc", "12.5"} {
		if _, err := ParseMinor(bad); err == nil {
			t.Errorf("ParseMinor(%q): expected error", bad)
		}
	}
}

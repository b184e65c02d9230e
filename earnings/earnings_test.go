package earnings

import "testing"

func TestTotal(t *testing.T) {
	if got := Total(0); !got.IsZero() {
		t.Errorf("expected zero earnings for zero clicks, got %s", got)
	}
	if got := Total(37); got.StringFixed(2) != "3.70" {
		t.Errorf("expected 3.70 for 37 clicks, got %s", got.StringFixed(2))
	}
	// exact decimal arithmetic: 3 clicks is 0.30, not 0.30000000000000004
	if got := Total(3).String(); got != "0.3" {
		t.Errorf("expected 0.3 for 3 clicks, got %s", got)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(10, 2, 7)
	if s.Total.StringFixed(2) != "1.20" {
		t.Errorf("expected total 1.20, got %s", s.Total.StringFixed(2))
	}
	if s.Available.StringFixed(2) != "0.70" {
		t.Errorf("expected available 0.70, got %s", s.Available.StringFixed(2))
	}
}

func TestSummarize_ClampsMatured(t *testing.T) {
	s := Summarize(2, 0, 99)
	if !s.Available.Equal(s.Total) {
		t.Errorf("expected available clamped to total, got %s of %s", s.Available, s.Total)
	}

	s = Summarize(2, 0, -1)
	if !s.Available.IsZero() {
		t.Errorf("expected negative matured to clamp to zero, got %s", s.Available)
	}
}

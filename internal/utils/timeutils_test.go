package utils

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimestampLayouts(t *testing.T) {
	want := time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)
	for _, input := range []string{"2021-03-04", "03/04/2021", "Mar 4, 2021", "04-Mar-21", "04-Mar-2021", "2021-03-04T00:00:00Z", " 2021-03-04 00:00:00 ", "1614816000"} {
		got, err := ParseTimestamp(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q: expected %v, got %v", input, want, got)
		}
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for unsupported layout")
	}
	if _, err := ParseTimestamp(""); err == nil {
		t.Fatalf("expected error for empty value")
	}
}

func TestFormatDate(t *testing.T) {
	if got := FormatDate(time.Time{}); got != "-" {
		t.Fatalf("expected placeholder, got %q", got)
	}
	if got := FormatDate(time.Date(2020, 12, 31, 23, 0, 0, 0, time.UTC)); got != "2020-12-31" {
		t.Fatalf("unexpected date %q", got)
	}
}

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	err := NewKindError(KindRateLimited, "detect", "too many requests", base)
	wrapped := errors.Join(errors.New("outer"), err)

	if KindOf(wrapped) != KindRateLimited {
		t.Fatalf("expected rate limited kind")
	}
	if KindOf(base) != KindInternal {
		t.Fatalf("expected internal kind for plain errors")
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected AppError to unwrap to its cause")
	}
}

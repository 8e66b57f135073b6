package period

import (
	"sort"
	"testing"
	"time"
)

func TestMonthKey_SameMonthSameKey(t *testing.T) {
	a := MonthKey(time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC))
	b := MonthKey(time.Date(2023, 3, 31, 23, 59, 0, 0, time.UTC))
	if a != b {
		t.Fatalf("got %d and %d, want identical keys", a, b)
	}
	if a != 20230301 {
		t.Fatalf("got %d, want 20230301", a)
	}
}

func TestMonthKey_ZeroIsMissing(t *testing.T) {
	if k := MonthKey(time.Time{}); k != Missing || k.Valid() {
		t.Fatalf("got %d, want Missing", k)
	}
}

func TestMonthKey_SortsChronologically(t *testing.T) {
	keys := []Key{
		MonthKey(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)),
		MonthKey(time.Date(2023, 12, 5, 0, 0, 0, 0, time.UTC)),
		MonthKey(time.Date(2023, 2, 5, 0, 0, 0, 0, time.UTC)),
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if keys[0] != 20230201 || keys[1] != 20231201 || keys[2] != 20240101 {
		t.Fatalf("unexpected order: %v", keys)
	}
}

func TestParseDate(t *testing.T) {
	cases := map[string]Key{
		"2023-01-15":          20230101,
		"2023-02-01 10:00:00": 20230201,
		"2023-03-04T05:06:07Z": 20230301,
		"2023/04/30":          20230401,
		"20230512":            20230501,
		"not a date":          Missing,
		"":                    Missing,
		"2023-13-01":          Missing,
	}
	for in, want := range cases {
		if got := MonthKey(ParseDate(in)); got != want {
			t.Errorf("ParseDate(%q): got %d, want %d", in, got, want)
		}
	}
}

func TestKeyArithmetic(t *testing.T) {
	k := Key(20231101)
	if k.Next() != 20231201 || k.AddMonths(2) != 20240101 || k.AddMonths(-11) != 20221201 {
		t.Fatalf("unexpected arithmetic from %d", k)
	}
	if Missing.Next() != Missing {
		t.Fatal("Missing must stay Missing")
	}
	if k.String() != "2023-11" {
		t.Fatalf("got %q", k.String())
	}
}

func TestFromInt(t *testing.T) {
	if got := FromInt(20230315); got != 20230301 {
		t.Fatalf("got %d, want 20230301", got)
	}
	if got := FromInt(20231301); got != Missing {
		t.Fatalf("got %d, want Missing", got)
	}
}

func TestParseMonth_Valid(t *testing.T) {
	got, err := ParseMonth("032025")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseMonth_InvalidLength(t *testing.T) {
	_, err := ParseMonth("32025") // 5 chars
	if err == nil {
		t.Fatal("expected error for invalid length, got nil")
	}
}

func TestParseMonth_InvalidMonth(t *testing.T) {
	_, err := ParseMonth("132025") // 13th month
	if err == nil {
		t.Fatal("expected error for invalid month, got nil")
	}
}

func TestMonthsBetweenInclusive(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC)
	got := MonthsBetweenInclusive(start, end)
	if len(got) != 4 {
		t.Fatalf("got %d months, want 4", len(got))
	}
	if got[0].Month() != time.March || got[3].Month() != time.June {
		t.Fatalf("unexpected months: %v", got)
	}
}

func TestKeysBetweenInclusive(t *testing.T) {
	got := KeysBetweenInclusive(20231101, 20240201)
	want := []Key{20231101, 20231201, 20240101, 20240201}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if KeysBetweenInclusive(20240101, 20231101) != nil {
		t.Fatal("reversed range must be empty")
	}
}

func TestSpan_IgnoresZeroDates(t *testing.T) {
	lo, hi, ok := Span([]time.Time{
		{},
		time.Date(2023, 4, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	if !ok || lo != 20230101 || hi != 20230401 {
		t.Fatalf("got lo=%d hi=%d ok=%v", lo, hi, ok)
	}
	if _, _, ok := Span(nil); ok {
		t.Fatal("empty input must report ok=false")
	}
}

func TestFormatMonth(t *testing.T) {
	d := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	if fm := FormatMonth(d); fm != "11/2025" {
		t.Fatalf("got %q, want %q", fm, "11/2025")
	}
}

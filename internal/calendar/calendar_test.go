package calendar

import (
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestAddPeriod(t *testing.T) {
	cases := []struct {
		from   string
		months int
		anchor int
		want   string
	}{
		{"2025-01-15", 1, 15, "2025-02-15"},
		{"2025-01-31", 1, 31, "2025-02-28"},
		{"2025-02-28", 1, 31, "2025-03-31"},
		{"2024-01-31", 1, 31, "2024-02-29"},
		{"2025-11-10", 3, 10, "2026-02-10"},
		{"2025-12-05", 12, 5, "2026-12-05"},
	}
	for _, c := range cases {
		got := AddPeriod(day(c.from), c.months, c.anchor)
		if !got.Equal(day(c.want)) {
			t.Fatalf("AddPeriod(%s, %d, %d) = %s, want %s", c.from, c.months, c.anchor, got.Format("2006-01-02"), c.want)
		}
	}
}

func TestNextCycle(t *testing.T) {
	cases := []struct {
		cursor     string
		months     int
		billingDay int
		want       string
	}{
		{"2025-01-15", 1, 5, "2025-02-15"},
		{"2025-01-15", 1, 20, "2025-02-15"},
		{"2025-01-05", 1, 5, "2025-02-05"},
		{"2025-01-31", 1, 31, "2025-02-28"},
		{"2025-02-28", 1, 31, "2025-03-31"},
		{"2024-02-29", 1, 30, "2024-03-30"},
		{"2025-02-28", 1, 28, "2025-03-28"},
		{"2025-06-30", 2, 31, "2025-08-31"},
		{"2025-10-10", 3, 10, "2026-01-10"},
	}
	for _, c := range cases {
		got := NextCycle(day(c.cursor), c.months, c.billingDay)
		if !got.Equal(day(c.want)) {
			t.Fatalf("NextCycle(%s, %d, %d) = %s, want %s", c.cursor, c.months, c.billingDay, got.Format("2006-01-02"), c.want)
		}
	}
}

func TestDueDate(t *testing.T) {
	cases := []struct {
		issued string
		dueDay int
		want   string
	}{
		{"2025-03-05", 10, "2025-03-10"},
		{"2025-03-10", 10, "2025-03-10"},
		{"2025-03-15", 10, "2025-04-10"},
		{"2025-01-31", 30, "2025-02-28"},
		{"2025-02-10", 31, "2025-02-28"},
		{"2025-12-20", 5, "2026-01-05"},
	}
	for _, c := range cases {
		got := DueDate(day(c.issued), c.dueDay)
		if !got.Equal(day(c.want)) {
			t.Fatalf("DueDate(%s, %d) = %s, want %s", c.issued, c.dueDay, got.Format("2006-01-02"), c.want)
		}
	}
}

func TestDateNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	got := Date(time.Date(2025, 6, 1, 22, 30, 0, 0, loc))
	if !got.Equal(day("2025-06-01")) || got.Location() != time.UTC {
		t.Fatalf("Date = %v", got)
	}
}

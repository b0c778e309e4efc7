// Package calendar holds the date arithmetic shared by the emission scheduler,
// the document builder and the receivable generator.
//
// All dates are calendar days normalized to midnight UTC so they compare and
// persist identically on every database driver.
package calendar

import "time"

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days of the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// OnDay returns day of the given month, clamped to the month's last day.
func OnDay(year int, month time.Month, day int) time.Time {
	if day < 1 {
		day = 1
	}
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// AddPeriod advances from by months, keeping anchorDay when the target month has it
// and clamping otherwise (31 Jan + 1 month = 28/29 Feb, then 31 Mar with anchor 31).
func AddPeriod(from time.Time, months, anchorDay int) time.Time {
	if anchorDay <= 0 {
		anchorDay = from.Day()
	}
	first := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	return OnDay(first.Year(), first.Month(), anchorDay)
}

// NextCycle adds months to a billing cursor and keeps the cursor's own day.
// A cursor clamped to the end of a short month returns to billingDay once the
// target month has it (31 Jan, 28 Feb, 31 Mar). The billing day never moves a
// cursor that sits on another day.
func NextCycle(cursor time.Time, months, billingDay int) time.Time {
	anchor := cursor.Day()
	if billingDay > anchor && anchor == DaysIn(cursor.Year(), cursor.Month()) {
		anchor = billingDay
	}
	return AddPeriod(cursor, months, anchor)
}

// DueDate resolves the due day against the issue date: the due day of the issue
// month, or of the following month when that day has already passed.
func DueDate(issued time.Time, dueDay int) time.Time {
	issued = Date(issued)
	due := OnDay(issued.Year(), issued.Month(), dueDay)
	if due.Before(issued) {
		next := time.Date(issued.Year(), issued.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		due = OnDay(next.Year(), next.Month(), dueDay)
	}
	return due
}

// Competence formats the billed month as AAAAMM.
func Competence(t time.Time) string {
	return t.Format("200601")
}

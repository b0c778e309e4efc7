package calendar_test

import (
	"fmt"
	"time"

	"nfcom/internal/calendar"
)

func ExampleAddPeriod() {
	start := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	feb := calendar.AddPeriod(start, 1, 31)
	mar := calendar.AddPeriod(feb, 1, 31)
	fmt.Println(feb.Format("2006-01-02"))
	fmt.Println(mar.Format("2006-01-02"))
	// Output:
	// 2024-02-29
	// 2024-03-31
}

func ExampleDueDate() {
	issued := time.Date(2025, 3, 20, 14, 30, 0, 0, time.UTC)
	fmt.Println(calendar.DueDate(issued, 10).Format("2006-01-02"))
	fmt.Println(calendar.DueDate(issued, 25).Format("2006-01-02"))
	// Output:
	// 2025-04-10
	// 2025-03-25
}

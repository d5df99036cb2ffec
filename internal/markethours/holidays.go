package markethours

import "time"

// KRX holidays for 2026.
// Source: KRX market closure calendar.
// Format: month, day pairs.
var krxHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},    // New Year's Day
	{time.February, 16},  // Seollal
	{time.February, 17},  // Seollal
	{time.February, 18},  // Seollal
	{time.March, 2},      // Independence Movement Day (substitute)
	{time.May, 1},        // Labor Day
	{time.May, 5},        // Children's Day
	{time.May, 25},       // Buddha's Birthday (substitute)
	{time.June, 3},       // Local elections
	{time.August, 17},    // Liberation Day (substitute)
	{time.September, 24}, // Chuseok
	{time.September, 25}, // Chuseok
	{time.September, 28}, // Chuseok (substitute, tentative)
	{time.October, 5},    // National Foundation Day (substitute)
	{time.October, 9},    // Hangul Day
	{time.December, 25},  // Christmas
	{time.December, 31},  // Year-end closing
}

// pre-compute for fast lookup
var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool, len(krxHolidays2026))
	for _, h := range krxHolidays2026 {
		holidaySet[dateKey(2026, h.month, h.day)] = true
	}
}

// IsHoliday returns true if the date (in KST) is a KRX holiday.
func IsHoliday(t time.Time) bool {
	kst := t.In(KST)
	return holidaySet[dateKey(kst.Year(), kst.Month(), kst.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, KST).Format("2006-01-02")
}

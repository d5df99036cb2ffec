// Package markethours answers KRX calendar questions for the daily batch:
// whether a day trades, and whether the regular session is open.
package markethours

import (
	"fmt"
	"time"
)

// KST is Korea Standard Time (UTC+9, no DST).
var KST = time.FixedZone("KST", 9*3600)

// Regular session hours in KST
const (
	OpenHour    = 9
	OpenMinute  = 0
	CloseHour   = 15
	CloseMinute = 30
)

// IsMarketOpen returns true if t falls within KRX regular hours
// (9:00 AM – 3:30 PM KST, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	kst := t.In(KST)
	if !IsTradingDay(kst) {
		return false
	}
	hm := kst.Hour()*60 + kst.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(KST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	kst := t.In(KST)
	return IsWeekday(kst) && !IsHoliday(kst)
}

// NextTradingDay returns midnight KST of the first trading day after t.
func NextTradingDay(t time.Time) time.Time {
	kst := t.In(KST)
	d := time.Date(kst.Year(), kst.Month(), kst.Day(), 0, 0, 0, 0, KST).AddDate(0, 0, 1)
	for i := 0; i < 14; i++ { // longest closure is well under two weeks
		if IsTradingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return "KRX open"
	}
	if IsTradingDay(t) {
		return "KRX closed for the day"
	}
	next := NextTradingDay(t)
	return fmt.Sprintf("KRX closed, next session %s %s", next.Weekday().String()[:3], next.Format("2006-01-02"))
}

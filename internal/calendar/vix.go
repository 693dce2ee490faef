// Package calendar computes VIX futures expiry dates and front-month symbols.
//
// The VIX monthly futures expiry is the Wednesday 30 days prior to the third
// Friday of the following calendar month. Everything here is pure arithmetic
// on UTC dates.
package calendar

import "time"

// Futures month codes, January through December.
var monthCodes = [12]string{"F", "G", "H", "J", "K", "M", "N", "Q", "U", "V", "X", "Z"}

// MonthCode returns the futures month code for a calendar month.
func MonthCode(m time.Month) string {
	return monthCodes[m-1]
}

// Midnight truncates a time to its UTC calendar date.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// thirdFriday returns the third Friday of the given month.
func thirdFriday(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+14)
}

// expiryFor returns the expiry date of the contract for the given month:
// the Wednesday 30 days before the third Friday of the month after it.
func expiryFor(year int, month time.Month) time.Time {
	ny, nm := year, month+1
	if nm > time.December {
		ny, nm = ny+1, time.January
	}
	return thirdFriday(ny, nm).AddDate(0, 0, -30)
}

// ExpiryOnOrAfter returns the first VIX monthly expiry on or after d.
func ExpiryOnOrAfter(d time.Time) time.Time {
	day := Midnight(d)
	year, month := day.Year(), day.Month()
	for {
		exp := expiryFor(year, month)
		if !exp.Before(day) {
			return exp
		}
		month++
		if month > time.December {
			year, month = year+1, time.January
		}
	}
}

// FrontMonthSymbol returns the symbol of the nearest-expiring contract for
// the root as of d: root + month code + single-digit year, e.g. "VXX7" for
// the November 2017 contract.
func FrontMonthSymbol(root string, d time.Time) string {
	exp := ExpiryOnOrAfter(d)
	return root + MonthCode(exp.Month()) + string(rune('0'+exp.Year()%10))
}

// DaysUntil returns the whole days from d to the given expiry.
func DaysUntil(d, expiry time.Time) int {
	return int(Midnight(expiry).Sub(Midnight(d)).Hours() / 24)
}

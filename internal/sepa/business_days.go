package sepa

import "time"

// NextBusinessDay advances from start one calendar day at a time, counting
// only Monday through Friday, until businessDays weekdays have been counted.
// Bank holidays are not modelled; the lead time absorbs them in practice.
func NextBusinessDay(start time.Time, businessDays int) time.Time {
	date := start
	remaining := businessDays
	for remaining > 0 {
		date = date.AddDate(0, 0, 1)
		if date.Weekday() != time.Saturday && date.Weekday() != time.Sunday {
			remaining--
		}
	}
	return date
}

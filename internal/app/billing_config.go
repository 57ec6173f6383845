package app

import "time"

// BillingConfig carries every setting the billing engine reads. It is built
// once at process start and passed to each component.
type BillingConfig struct {
	DaysBeforeCycle   int // renewal window before the current cycle ends
	DaysToDue         int
	ReminderGraceDays int
	EnableReminders   bool
	CycleLengthMonths int

	IBAN            string
	BIC             string
	FromEmail       string
	CCEmail         string
	BillSubject     string // text/template
	ReminderSubject string // text/template
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func (c BillingConfig) renewalWindow() time.Duration { return days(c.DaysBeforeCycle) }
func (c BillingConfig) dueAfter() time.Duration      { return days(c.DaysToDue) }
func (c BillingConfig) grace() time.Duration         { return days(c.ReminderGraceDays) }

func (c BillingConfig) cycleEnd(start time.Time) time.Time {
	months := c.CycleLengthMonths
	if months <= 0 {
		months = 12
	}
	return start.AddDate(0, months, 0)
}

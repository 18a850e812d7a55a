package models

import (
	"fmt"
	"time"
)

// TimeUnit is the unit of a Duration.
type TimeUnit string

const (
	UnitHours TimeUnit = "hours"
	UnitDays  TimeUnit = "days"
	UnitWeeks TimeUnit = "weeks"
)

// Duration is a value-plus-unit span as presented to callers.
type Duration struct {
	Value float64  `json:"value"`
	Unit  TimeUnit `json:"unit"`
}

// Hours returns a Duration of n hours.
func Hours(n float64) Duration { return Duration{Value: n, Unit: UnitHours} }

// Days returns a Duration of n days.
func Days(n float64) Duration { return Duration{Value: n, Unit: UnitDays} }

// Weeks returns a Duration of n weeks.
func Weeks(n float64) Duration { return Duration{Value: n, Unit: UnitWeeks} }

// AsDuration converts to a time.Duration. Unknown units are read as hours.
func (d Duration) AsDuration() time.Duration {
	hours := d.Value
	switch d.Unit {
	case UnitDays:
		hours *= 24
	case UnitWeeks:
		hours *= 24 * 7
	}
	return time.Duration(hours * float64(time.Hour))
}

// Less reports whether d is strictly shorter than other.
func (d Duration) Less(other Duration) bool {
	return d.AsDuration() < other.AsDuration()
}

func (d Duration) String() string {
	return fmt.Sprintf("%g %s", d.Value, d.Unit)
}

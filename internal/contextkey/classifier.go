// Package contextkey derives the time-of-day / day-type context a behavioral
// event occurred in, and builds the deterministic composite key transitions
// and routines are grouped by.
package contextkey

import (
	"fmt"
	"strings"
	"time"
)

// TimeBucket is one of the four coarse times of day used to bucket events.
type TimeBucket string

const (
	Morning   TimeBucket = "morning"
	Afternoon TimeBucket = "afternoon"
	Evening   TimeBucket = "evening"
	Night     TimeBucket = "night"
)

// DayType is weekday or weekend.
type DayType string

const (
	Weekday DayType = "weekday"
	Weekend DayType = "weekend"
)

// Bounds configures the (configurable) boundaries between time buckets, as
// minutes since local midnight. Defaults match spec.md §4.1.
type Bounds struct {
	MorningStart   int // 05:00
	AfternoonStart int // 12:00
	EveningStart   int // 17:00
	NightStart     int // 22:00
}

// DefaultBounds returns the spec.md §4.1 default bucket boundaries.
func DefaultBounds() Bounds {
	return Bounds{
		MorningStart:   5 * 60,
		AfternoonStart: 12 * 60,
		EveningStart:   17 * 60,
		NightStart:     22 * 60,
	}
}

// Classifier derives (timeBucket, dayType) from a UTC timestamp with a
// configurable local offset.
type Classifier struct {
	Bounds Bounds
}

// NewClassifier builds a Classifier with the default bucket boundaries.
func NewClassifier() *Classifier {
	return &Classifier{Bounds: DefaultBounds()}
}

// Classify derives the time bucket and day type for `ts`, shifted by
// `localOffsetMinutes` (e.g. -300 for UTC-5) before bucketing.
func (c *Classifier) Classify(ts time.Time, localOffsetMinutes int) (TimeBucket, DayType) {
	local := ts.UTC().Add(time.Duration(localOffsetMinutes) * time.Minute)
	minutesOfDay := local.Hour()*60 + local.Minute()

	bucket := c.bucketFor(minutesOfDay)

	dayType := Weekday
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		dayType = Weekend
	}

	return bucket, dayType
}

func (c *Classifier) bucketFor(minutesOfDay int) TimeBucket {
	b := c.Bounds
	switch {
	case minutesOfDay >= b.MorningStart && minutesOfDay < b.AfternoonStart:
		return Morning
	case minutesOfDay >= b.AfternoonStart && minutesOfDay < b.EveningStart:
		return Afternoon
	case minutesOfDay >= b.EveningStart && minutesOfDay < b.NightStart:
		return Evening
	default:
		// Night wraps across midnight: [NightStart, 24:00) U [0, MorningStart)
		return Night
	}
}

// DefaultKeyFormat is the composite context-bucket key template from
// spec.md §4.1.
const DefaultKeyFormat = "{dayType}*{timeBucket}*{location}"

// KeyBuilder builds the deterministic composite context-bucket key used as
// transition context. BuildKey is a pure function: the same inputs always
// produce the same key.
type KeyBuilder struct {
	Format string
}

// NewKeyBuilder returns a KeyBuilder using the default format.
func NewKeyBuilder() *KeyBuilder {
	return &KeyBuilder{Format: DefaultKeyFormat}
}

// ContextFields is the minimal set of fields BuildKey substitutes into the
// format string.
type ContextFields struct {
	DayType   string
	TimeBucket string
	Location  string
}

// BuildKey substitutes {dayType}, {timeBucket}, and {location} (defaulting
// location to "unknown") into the configured format.
func (k *KeyBuilder) BuildKey(f ContextFields) string {
	format := k.Format
	if format == "" {
		format = DefaultKeyFormat
	}
	location := f.Location
	if location == "" {
		location = "unknown"
	}

	r := strings.NewReplacer(
		"{dayType}", f.DayType,
		"{timeBucket}", f.TimeBucket,
		"{location}", location,
	)
	return r.Replace(format)
}

// String renders a TimeBucket/DayType pair for debugging.
func String(tb TimeBucket, dt DayType) string {
	return fmt.Sprintf("%s/%s", dt, tb)
}

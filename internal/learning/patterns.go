package learning

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/habitloop/engine/internal/core"
)

// PatternInferencerConfig holds the circular-EMA weight and the
// daily/weekly evidence thresholds (spec.md §4.3).
type PatternInferencerConfig struct {
	CenterAlpha float64 // default 0.1
	MinDaily    int     // default 3
	MinWeekly   int     // default 3
}

// DefaultPatternInferencerConfig returns the spec.md §4.3 defaults.
func DefaultPatternInferencerConfig() PatternInferencerConfig {
	return PatternInferencerConfig{CenterAlpha: 0.1, MinDaily: 3, MinWeekly: 3}
}

// PatternInferencer maintains a ReminderCandidate's time-of-day EMA and
// day-of-week/time-bucket/day-type histograms, and classifies the inferred
// recurrence pattern.
type PatternInferencer struct {
	cfg PatternInferencerConfig
}

// NewPatternInferencer builds a PatternInferencer.
func NewPatternInferencer(cfg PatternInferencerConfig) *PatternInferencer {
	return &PatternInferencer{cfg: cfg}
}

const dayLayout = "2006-01-02"

func timeOfDay(ts time.Time) time.Duration {
	ts = ts.UTC()
	return time.Duration(ts.Hour())*time.Hour + time.Duration(ts.Minute())*time.Minute + time.Duration(ts.Second())*time.Second
}

func mod24(d time.Duration) time.Duration {
	const day = 24 * time.Hour
	d %= day
	if d < 0 {
		d += day
	}
	return d
}

// wrap12h maps a delta into [-12h, 12h), the shortest signed distance around
// the 24h clock.
func wrap12h(delta time.Duration) time.Duration {
	const day = 24 * time.Hour
	const half = 12 * time.Hour
	d := mod24(delta + half) - half
	return d
}

// RecordEvidence implements spec.md §4.3: the first call initializes the
// candidate's pattern-inference state, subsequent calls update it in place.
func (p *PatternInferencer) RecordEvidence(r *core.ReminderCandidate, ts time.Time, timeBucket, dayType string) {
	tod := timeOfDay(ts)
	date := ts.UTC().Format(dayLayout)

	if r.ObservedDays == nil {
		r.ObservedDays = make(map[string]bool)
	}
	if r.TimeBucketHistogram == nil {
		r.TimeBucketHistogram = make(map[string]int)
	}
	if r.DayTypeHistogram == nil {
		r.DayTypeHistogram = make(map[string]int)
	}

	if r.EvidenceCount == 0 {
		r.TimeWindowCenter = tod
	} else {
		delta := wrap12h(tod - r.TimeWindowCenter)
		r.TimeWindowCenter = mod24(r.TimeWindowCenter + time.Duration(p.cfg.CenterAlpha*float64(delta)))
	}

	r.EvidenceCount++
	r.ObservedDays[date] = true
	r.DayOfWeekHistogram[int(ts.UTC().Weekday())]++
	r.TimeBucketHistogram[timeBucket]++
	r.DayTypeHistogram[dayType]++

	r.MostCommonTimeBucket = mode(r.TimeBucketHistogram)
	r.MostCommonDayType = mode(r.DayTypeHistogram)
}

func mode(histogram map[string]int) string {
	best := ""
	bestCount := -1
	keys := make([]string, 0, len(histogram))
	for k := range histogram {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic tie-break
	for _, k := range keys {
		if histogram[k] > bestCount {
			best = k
			bestCount = histogram[k]
		}
	}
	return best
}

// UpdateInferredPattern implements spec.md §4.3's classification and
// produces the human-readable occurrence string. Calling it twice without
// new evidence yields identical fields (idempotent, per spec.md §8 property 8).
func (p *PatternInferencer) UpdateInferredPattern(r *core.ReminderCandidate) {
	if r.EvidenceCount < p.cfg.MinDaily {
		r.PatternInferenceStatus = core.PatternUnknown
		r.InferredWeekday = nil
		if r.EvidenceCount > 0 {
			r.Occurrence = "Still learning"
		}
		return
	}

	days := sortedDays(r.ObservedDays)

	if weekday, ok := p.weeklyWeekday(r, days); ok {
		r.PatternInferenceStatus = core.PatternWeekly
		w := weekday
		r.InferredWeekday = &w
		r.Occurrence = p.occurrenceString(r, fmt.Sprintf("every %s at %s", time.Weekday(weekday), formatTimeOfDay(r.TimeWindowCenter)))
		return
	}

	if hasRun(days, p.cfg.MinDaily, 2) {
		r.PatternInferenceStatus = core.PatternDaily
		r.InferredWeekday = nil
		r.Occurrence = p.occurrenceString(r, fmt.Sprintf("daily around %s", formatTimeOfDay(r.TimeWindowCenter)))
		return
	}

	r.PatternInferenceStatus = core.PatternFlexible
	r.InferredWeekday = nil
	r.Occurrence = p.occurrenceString(r, fmt.Sprintf("around %s, flexible", formatTimeOfDay(r.TimeWindowCenter)))
}

// weeklyWeekday reports the single weekday that has reached MinWeekly
// evidence and whose earliest/latest observation on that weekday spans at
// least 7 days, if such a weekday exists.
func (p *PatternInferencer) weeklyWeekday(r *core.ReminderCandidate, days []time.Time) (int, bool) {
	candidate := -1
	count := 0
	for wd, n := range r.DayOfWeekHistogram {
		if n >= p.cfg.MinWeekly {
			if candidate != -1 {
				return 0, false // more than one qualifying weekday
			}
			candidate = wd
		}
	}
	if candidate == -1 {
		return 0, false
	}

	var earliest, latest time.Time
	for _, d := range days {
		if int(d.Weekday()) != candidate {
			continue
		}
		count++
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
		if latest.IsZero() || d.After(latest) {
			latest = d
		}
	}
	if count < p.cfg.MinWeekly {
		return 0, false
	}
	if latest.Sub(earliest) < 7*24*time.Hour {
		return 0, false
	}
	return candidate, true
}

// hasRun reports whether days (sorted ascending) contains a consecutive run
// of at least minLen entries where consecutive gaps are <= maxGapDays.
func hasRun(days []time.Time, minLen, maxGapDays int) bool {
	if len(days) < minLen {
		return false
	}
	run := 1
	best := 1
	for i := 1; i < len(days); i++ {
		gap := int(days[i].Sub(days[i-1]).Hours() / 24)
		if gap <= maxGapDays {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best >= minLen
}

func sortedDays(observed map[string]bool) []time.Time {
	out := make([]time.Time, 0, len(observed))
	for d := range observed {
		t, err := time.Parse(dayLayout, d)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func formatTimeOfDay(d time.Duration) string {
	d = mod24(d)
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// occurrenceString embeds the recurrence clause with the most-common time
// bucket, a day-type exclusivity hint, and (when present) the customData
// state conditions, per spec.md §4.3.
func (p *PatternInferencer) occurrenceString(r *core.ReminderCandidate, recurrenceClause string) string {
	parts := []string{recurrenceClause}

	if r.MostCommonTimeBucket != "" {
		parts = append(parts, fmt.Sprintf("usually in the %s", r.MostCommonTimeBucket))
	}
	if r.MostCommonDayType != "" && isExclusiveDayType(r.DayTypeHistogram, r.MostCommonDayType) {
		parts = append(parts, fmt.Sprintf("only on %ss", r.MostCommonDayType))
	}
	if len(r.CustomData) > 0 {
		keys := make([]string, 0, len(r.CustomData))
		for k := range r.CustomData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		conds := make([]string, 0, len(keys))
		for _, k := range keys {
			conds = append(conds, fmt.Sprintf("%s=%s", k, r.CustomData[k]))
		}
		parts = append(parts, "when "+strings.Join(conds, ", "))
	}

	return strings.Join(parts, ", ")
}

// isExclusiveDayType reports whether every piece of evidence fell under the
// same day type, making the hint worth stating.
func isExclusiveDayType(histogram map[string]int, mostCommon string) bool {
	for k, v := range histogram {
		if k != mostCommon && v > 0 {
			return false
		}
	}
	return true
}

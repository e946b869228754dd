// Package evaluator implements the Evaluator and ExecutionPipeline: the
// final gate between a due reminder candidate and a spoken/executed action.
package evaluator

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/habitloop/engine/internal/core"
)

// The recurrence clause is always the leading clause of a PatternInferencer
// occurrence string; occurrenceString appends further ", usually in the
// <bucket>" / ", only on <dayType>s" / ", when k=v" clauses after it, so
// these are intentionally NOT end-anchored.
var (
	weeklyPattern = regexp.MustCompile(`^every (\w+) at (\d{1,2}):(\d{2})(?:,|$)`)
	dailyPattern  = regexp.MustCompile(`^daily around (\d{1,2}):(\d{2})(?:,|$)`)
)

var weekdayByName = map[string]time.Weekday{
	"Sunday": time.Sunday, "Monday": time.Monday, "Tuesday": time.Tuesday,
	"Wednesday": time.Wednesday, "Thursday": time.Thursday, "Friday": time.Friday,
	"Saturday": time.Saturday,
}

// OccurrencePatternParser advances a PatternInferencer-produced occurrence
// string to its next scheduled instant.
type OccurrencePatternParser struct{}

// NewOccurrencePatternParser builds an OccurrencePatternParser.
func NewOccurrencePatternParser() *OccurrencePatternParser {
	return &OccurrencePatternParser{}
}

// Next returns the next instant strictly after `after` that the occurrence
// string recurs at. ok is false for non-recurring occurrence text (including
// "Still learning" and Flexible/Unknown-status phrasing), in which case err
// is always nil. A string that looks like a weekly/daily recurrence clause
// but fails to parse (bad hour, unknown weekday) returns a ValidationError.
func (p *OccurrencePatternParser) Next(occurrence string, after time.Time) (time.Time, bool, error) {
	if m := weeklyPattern.FindStringSubmatch(occurrence); m != nil {
		weekday, ok := weekdayByName[m[1]]
		if !ok {
			return time.Time{}, false, &core.ValidationError{Field: "occurrence", Err: core.ErrInvalidOccurrence}
		}
		hour, minute, err := parseHourMinute(m[2], m[3])
		if err != nil {
			return time.Time{}, false, &core.ValidationError{Field: "occurrence", Err: err}
		}
		return nextWeekly(after, weekday, hour, minute), true, nil
	}

	if m := dailyPattern.FindStringSubmatch(occurrence); m != nil {
		hour, minute, err := parseHourMinute(m[1], m[2])
		if err != nil {
			return time.Time{}, false, &core.ValidationError{Field: "occurrence", Err: err}
		}
		return nextDaily(after, hour, minute), true, nil
	}

	return time.Time{}, false, nil
}

func parseHourMinute(hourStr, minuteStr string) (int, int, error) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour %q", core.ErrInvalidOccurrence, hourStr)
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute %q", core.ErrInvalidOccurrence, minuteStr)
	}
	return hour, minute, nil
}

func nextDaily(after time.Time, hour, minute int) time.Time {
	after = after.UTC()
	candidate := time.Date(after.Year(), after.Month(), after.Day(), hour, minute, 0, 0, time.UTC)
	if !candidate.After(after) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate
}

func nextWeekly(after time.Time, weekday time.Weekday, hour, minute int) time.Time {
	after = after.UTC()
	candidate := time.Date(after.Year(), after.Month(), after.Day(), hour, minute, 0, 0, time.UTC)
	for candidate.Weekday() != weekday || !candidate.After(after) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate
}

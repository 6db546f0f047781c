package deferral

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday 2026-05-06 10:20 UTC.
var wed = time.Date(2026, 5, 6, 10, 20, 0, 0, time.UTC)

func compute(t *testing.T, from time.Time, typ Type) time.Time {
	t.Helper()
	got, err := Compute(from, typ, time.Time{}, time.UTC)
	require.NoError(t, err)
	return got
}

func TestRelativeHours(t *testing.T) {
	assert.Equal(t, time.Date(2026, 5, 6, 11, 0, 0, 0, time.UTC), compute(t, wed, OneHour))
	assert.Equal(t, time.Date(2026, 5, 6, 12, 0, 0, 0, time.UTC), compute(t, wed, TwoHours))
	assert.Equal(t, time.Date(2026, 5, 6, 13, 0, 0, 0, time.UTC), compute(t, wed, Later))
}

func TestEndOfDayAndTonight(t *testing.T) {
	assert.Equal(t, time.Date(2026, 5, 6, 17, 0, 0, 0, time.UTC), compute(t, wed, EndOfDay))
	evening := time.Date(2026, 5, 6, 17, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 6, 23, 0, 0, 0, time.UTC), compute(t, evening, EndOfDay))

	assert.Equal(t, time.Date(2026, 5, 6, 19, 0, 0, 0, time.UTC), compute(t, wed, Tonight))
	late := time.Date(2026, 5, 6, 19, 5, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 6, 21, 0, 0, 0, time.UTC), compute(t, late, Tonight))
}

func TestCalendarTypes(t *testing.T) {
	assert.Equal(t, time.Date(2026, 5, 7, 8, 0, 0, 0, time.UTC), compute(t, wed, Tomorrow))
	assert.Equal(t, time.Date(2026, 5, 8, 17, 0, 0, 0, time.UTC), compute(t, wed, ThisWeek))
	assert.Equal(t, time.Date(2026, 5, 9, 8, 0, 0, 0, time.UTC), compute(t, wed, Weekend))
	assert.Equal(t, time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC), compute(t, wed, NextWeek))
	assert.Equal(t, time.Date(2026, 5, 31, 8, 0, 0, 0, time.UTC), compute(t, wed, MonthEnd))
	assert.Equal(t, time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC), compute(t, wed, NextMonth))
}

func TestWeekBoundaries(t *testing.T) {
	friday := time.Date(2026, 5, 8, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 8, 17, 0, 0, 0, time.UTC), compute(t, friday, ThisWeek))

	saturday := time.Date(2026, 5, 9, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 16, 8, 0, 0, 0, time.UTC), compute(t, saturday, Weekend))

	monday := time.Date(2026, 5, 11, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 18, 8, 0, 0, 0, time.UTC), compute(t, monday, NextWeek))
}

func TestMonthEndInFebruary(t *testing.T) {
	feb := time.Date(2028, 2, 10, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2028, 2, 29, 8, 0, 0, 0, time.UTC), compute(t, feb, MonthEnd))
	dec := time.Date(2026, 12, 31, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 1, 8, 0, 0, 0, time.UTC), compute(t, dec, NextMonth))
}

func TestLocalZone(t *testing.T) {
	loc := time.FixedZone("UTC-7", -7*3600)
	// 10:20 UTC is 03:20 local.
	got, err := Compute(wed, EndOfDay, time.Time{}, loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 7, 0, 0, 0, 0, time.UTC), got)
}

func TestFixedResults(t *testing.T) {
	assert.True(t, compute(t, wed, None).IsZero())
	assert.Equal(t, MaxTime, compute(t, wed, Forever))

	due := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	got, err := Compute(wed, DueDate, due, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, due, got)
	assert.True(t, DueDate.NeedsDate())

	_, err = Compute(wed, Type(99), time.Time{}, time.UTC)
	require.Error(t, err)
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("Next_Week")
	require.NoError(t, err)
	assert.Equal(t, NextWeek, typ)
	assert.Equal(t, "next_week", typ.String())
	_, err = ParseType("someday")
	require.Error(t, err)
}

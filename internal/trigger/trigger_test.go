package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/domain"
)

// TestNext_Cron_S1 reproduces spec.md scenario S1: weekdays 09:00
// Europe/Chisinau, evaluated the day before a DST spring-forward.
func TestNext_Cron_S1(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Chisinau")
	require.NoError(t, err)

	now := time.Date(2025, 3, 29, 12, 0, 0, 0, loc)

	next, ok, err := Next(domain.ScheduleCron, "0 9 * * 1-5", "Europe/Chisinau", now)
	require.NoError(t, err)
	require.True(t, ok)

	want := time.Date(2025, 3, 31, 9, 0, 0, 0, loc)
	assert.True(t, next.Equal(want), "got %s want %s", next, want)
	assert.Equal(t, "+03:00", want.Format("-07:00"))
}

// TestNext_RRule_S2 reproduces spec.md scenario S2: last Friday of the
// month at 17:00 UTC, five occurrences from 2025-01-01.
func TestNext_RRule_S2(t *testing.T) {
	expr := "FREQ=MONTHLY;BYDAY=FR;BYSETPOS=-1;BYHOUR=17;BYMINUTE=0"
	dtstart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	after := dtstart

	want := []time.Time{
		time.Date(2025, 1, 31, 17, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 28, 17, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 28, 17, 0, 0, 0, time.UTC),
		time.Date(2025, 4, 25, 17, 0, 0, 0, time.UTC),
		time.Date(2025, 5, 30, 17, 0, 0, 0, time.UTC),
	}

	for _, w := range want {
		next, ok, err := NextAfterDTStart(domain.ScheduleRRule, expr, "UTC", dtstart, after)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, next.Equal(w), "got %s want %s", next, w)
		after = next.Add(time.Second)
	}
}

// TestNext_Once_S3 reproduces spec.md scenario S3: a past once
// instant yields no occurrence.
func TestNext_Once_S3(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, ok, err := Next(domain.ScheduleOnce, "2000-01-01T00:00:00Z", "UTC", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNext_Once_Future(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	next, ok, err := Next(domain.ScheduleOnce, "2025-06-01T00:00:00Z", "UTC", now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), next)
}

func TestNext_Event_AlwaysNone(t *testing.T) {
	_, ok, err := Next(domain.ScheduleEvent, "alerts.*", "UTC", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNext_UnknownTimezone(t *testing.T) {
	_, _, err := Next(domain.ScheduleCron, "0 9 * * *", "Not/AZone", time.Now())
	require.Error(t, err)
	var tzErr *UnknownTimezoneError
	require.ErrorAs(t, err, &tzErr)
}

func TestNext_InvalidCron(t *testing.T) {
	_, _, err := Next(domain.ScheduleCron, "not a cron", "UTC", time.Now())
	require.Error(t, err)
	var exprErr *InvalidExpressionError
	require.ErrorAs(t, err, &exprErr)
}

func TestValidate_LeapYearWarning(t *testing.T) {
	report := Validate(domain.ScheduleRRule, "FREQ=YEARLY;BYMONTH=2;BYMONTHDAY=29", "UTC")
	require.True(t, report.Valid)
	require.NotEmpty(t, report.Warnings)
}

func TestNext_RRule_Count(t *testing.T) {
	expr := "FREQ=DAILY;COUNT=3"
	dtstart := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	next, ok, err := NextAfterDTStart(domain.ScheduleRRule, expr, "UTC", dtstart, dtstart)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, dtstart, next)

	next, ok, err = NextAfterDTStart(domain.ScheduleRRule, expr, "UTC", dtstart, dtstart.AddDate(0, 0, 2).Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "count exhausted, no fourth occurrence")
}

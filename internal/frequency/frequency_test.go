package frequency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendcal/internal/recurrence"
	"attendcal/internal/tzdate"
)

var anchor = tzdate.MustParse("2024-01-17T09:30:00", "Asia/Seoul") // a Wednesday

func TestRuleFor(t *testing.T) {
	tests := []struct {
		preset Preset
		want   string
	}{
		{None, ""},
		{Daily, "RRULE:FREQ=DAILY;BYHOUR=9;BYMINUTE=30;BYSECOND=0"},
		{Weekly, "RRULE:FREQ=WEEKLY;BYDAY=WE;BYHOUR=9;BYMINUTE=30;BYSECOND=0"},
		{Biweekly, "RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=WE;BYHOUR=9;BYMINUTE=30;BYSECOND=0"},
		{Monthly, "RRULE:FREQ=MONTHLY;BYMONTHDAY=17;BYHOUR=9;BYMINUTE=30;BYSECOND=0"},
		{Yearly, "RRULE:FREQ=YEARLY;BYMONTH=1;BYMONTHDAY=17;BYHOUR=9;BYMINUTE=30;BYSECOND=0"},
	}
	for _, tt := range tests {
		t.Run(string(tt.preset), func(t *testing.T) {
			got, err := RuleFor(tt.preset, anchor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := RuleFor(Custom, anchor)
	assert.Error(t, err)
}

func TestClassifyLines(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  Preset
	}{
		{"empty", nil, None},
		{"dates only", []string{"RDATE:20240115T100000Z"}, None},
		{"daily", []string{"RRULE:FREQ=DAILY"}, Daily},
		{"daily ignores BYHOUR", []string{"RRULE:FREQ=DAILY;BYHOUR=7;BYMINUTE=0"}, Daily},
		{"weekly", []string{"DTSTART:20240101T100000Z", "RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR"}, Weekly},
		{"biweekly", []string{"RRULE:FREQ=WEEKLY;INTERVAL=2"}, Biweekly},
		{"monthly", []string{"RRULE:FREQ=MONTHLY;BYMONTHDAY=15;COUNT=12"}, Monthly},
		{"yearly", []string{"RRULE:FREQ=YEARLY"}, Yearly},
		{"every three days", []string{"RRULE:FREQ=DAILY;INTERVAL=3"}, Custom},
		{"hourly", []string{"RRULE:FREQ=HOURLY"}, Custom},
		{"two rules", []string{"RRULE:FREQ=DAILY", "RRULE:FREQ=WEEKLY"}, Custom},
		{"with exrule", []string{"RRULE:FREQ=DAILY", "EXRULE:FREQ=WEEKLY;BYDAY=SA"}, Custom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassifyLines(tt.lines, "UTC", anchor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ClassifyLines([]string{"RRULE:FREQ=FORTNIGHTLY"}, "UTC", anchor)
	assert.ErrorIs(t, err, recurrence.ErrGrammar)
}

func TestClassify_RoundTripsEveryPreset(t *testing.T) {
	for _, p := range Ladder[1:] {
		line, err := RuleFor(p, anchor)
		require.NoError(t, err)
		set, err := recurrence.Parse([]string{line}, "Asia/Seoul")
		require.NoError(t, err)
		assert.Equal(t, p, Classify(set, anchor))
	}
	assert.Equal(t, None, Classify(nil, anchor))
}

func TestClassify_AgreesWithMatches(t *testing.T) {
	other := tzdate.MustParse("2023-07-15T22:45:00", "America/New_York")
	for _, lines := range [][]string{
		{"RRULE:FREQ=DAILY"},
		{"RRULE:FREQ=WEEKLY;BYDAY=TU,TH"},
		{"RRULE:FREQ=WEEKLY;INTERVAL=2;COUNT=6"},
		{"RRULE:FREQ=MONTHLY;BYMONTHDAY=31"},
		{"RRULE:FREQ=YEARLY;UNTIL=20300101T000000Z"},
		{"RRULE:FREQ=DAILY;INTERVAL=3"},
		{"RRULE:FREQ=DAILY", "EXRULE:FREQ=WEEKLY;BYDAY=SA"},
	} {
		set, err := recurrence.Parse(lines, "UTC")
		require.NoError(t, err)
		p := Classify(set, anchor)
		assert.Equal(t, p, Classify(set, other), lines)

		ok, err := Matches(lines, p, "UTC")
		require.NoError(t, err)
		assert.True(t, ok, "%v classified as %s", lines, p)
	}
}

func TestMatches(t *testing.T) {
	ok, err := Matches(nil, None, "UTC")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Matches([]string{"RRULE:FREQ=WEEKLY;INTERVAL=2"}, Weekly, "UTC")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Matches([]string{"RRULE:FREQ=WEEKLY;INTERVAL=2"}, Biweekly, "UTC")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Matches([]string{"RRULE:FREQ=MINUTELY"}, Custom, "UTC")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Matches(nil, Preset("sometimes"), "UTC")
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	lines := []string{
		"DTSTART:20240101T100000Z",
		"RRULE:FREQ=DAILY",
		"RDATE:20240120T100000Z",
		"EXDATE:20240102T100000Z",
	}

	got, err := Apply(lines, Weekly, anchor, false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"DTSTART;TZID=Asia/Seoul:20240117T093000",
		"RRULE:FREQ=WEEKLY;BYDAY=WE;BYHOUR=9;BYMINUTE=30;BYSECOND=0",
		"RDATE:20240120T100000Z",
		"EXDATE:20240102T100000Z",
	}, got)

	got, err = Apply(lines, Monthly, anchor, true)
	require.NoError(t, err)
	assert.Equal(t, "DTSTART;VALUE=DATE:20240117", got[0])

	got, err = Apply(lines, None, anchor, false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParsePreset(t *testing.T) {
	p, err := ParsePreset(" Biweekly ")
	require.NoError(t, err)
	assert.Equal(t, Biweekly, p)
	assert.Equal(t, "Every 2 weeks", p.Label())

	_, err = ParsePreset("fortnightly")
	assert.Error(t, err)
}

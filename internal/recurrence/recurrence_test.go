package recurrence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendcal/internal/tzdate"
)

func utc(iso string) tzdate.Instant { return tzdate.MustParse(iso, "UTC") }

func isoList(ins []tzdate.Instant) []string {
	out := make([]string, 0, len(ins))
	for _, in := range ins {
		out = append(out, in.String())
	}
	return out
}

func TestParse_Empty(t *testing.T) {
	s, err := Parse(nil, "")
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Parse([]string{"", "   ", "\r\n"}, "UTC")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestParse_AcceptsWireExamples(t *testing.T) {
	s, err := Parse([]string{
		"DTSTART;TZID=America/New_York:20240101T100000",
		"RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR",
		"RRULE:FREQ=MONTHLY;BYMONTHDAY=15;COUNT=12",
		"RDATE:20240115T100000Z,20240125T100000Z",
		"EXDATE:20240116T100000Z",
	}, "")
	require.NoError(t, err)
	require.NotNil(t, s)

	start, ok := s.DTStart()
	require.True(t, ok)
	assert.Equal(t, "America/New_York", s.TZID())
	assert.Equal(t, "2024-01-01T10:00:00.000-05:00", start.String())
	assert.Len(t, s.RRules(), 2)
	assert.Empty(t, s.ExRules())
	assert.Equal(t, []string{"2024-01-15T10:00:00.000Z", "2024-01-25T10:00:00.000Z"}, isoList(s.RDates()))
	assert.Equal(t, []string{"2024-01-16T10:00:00.000Z"}, isoList(s.ExDates()))
	assert.Equal(t, 12, s.RRules()[1].Count())
}

func TestParse_GrammarErrors(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"unknown property", []string{"SUMMARY:Standup"}},
		{"missing colon", []string{"RRULE FREQ=DAILY"}},
		{"empty value", []string{"RRULE:"}},
		{"invalid FREQ", []string{"RRULE:FREQ=SOMETIMES"}},
		{"invalid BYDAY", []string{"RRULE:FREQ=WEEKLY;BYDAY=XX"}},
		{"missing FREQ", []string{"RRULE:INTERVAL=2"}},
		{"COUNT with UNTIL", []string{"RRULE:FREQ=DAILY;COUNT=2;UNTIL=20240101T000000Z"}},
		{"ISO date in RDATE", []string{"RDATE:2024-01-15"}},
		{"unknown TZID", []string{"DTSTART;TZID=Mars/Olympus:20240101T100000"}},
		{"TZID with UTC value", []string{"EXDATE;TZID=Asia/Tokyo:20240101T100000Z"}},
		{"PERIOD value", []string{"RDATE;VALUE=PERIOD:19960403T020000Z/19960403T040000Z"}},
		{"unsupported parameter", []string{"RDATE;RANGE=THISANDFUTURE:20240101T100000Z"}},
		{"two DTSTART", []string{"DTSTART:20240101T100000Z", "DTSTART:20240102T100000Z"}},
		{"empty list entry", []string{"EXDATE:20240101T100000Z,,20240102T100000Z"}},
		{"valid line then garbage", []string{"RRULE:FREQ=DAILY", "NOT A LINE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.lines, "UTC")
			require.ErrorIs(t, err, ErrGrammar)
			assert.Nil(t, s)
		})
	}
}

func TestParse_UnfoldsAndIgnoresXParams(t *testing.T) {
	s, err := Parse([]string{"RRULE;X-SOURCE=ui:FREQ=WEEKLY;BY", " DAY=MO"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;BYDAY=MO"}, s.Lines())
}

func TestLines_RoundTrip(t *testing.T) {
	lines := []string{
		"DTSTART;TZID=America/New_York:20240101T100000",
		"RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR",
		"EXRULE:FREQ=MONTHLY;BYMONTHDAY=15",
		"RDATE:20240115T100000Z,20240125T100000Z",
		"RDATE;VALUE=DATE:20240201",
		"EXDATE:20240116T100000Z",
	}
	s, err := Parse(lines, "")
	require.NoError(t, err)
	assert.Equal(t, lines, s.Lines())
}

func TestLines_NormalizesCategoryOrder(t *testing.T) {
	s, err := Parse([]string{
		"EXDATE:20240110T100000Z",
		"RDATE:20240105T100000Z",
		"RRULE:FREQ=DAILY",
		"dtstart:20240101T100000Z",
		"EXDATE:20240109T100000Z",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"DTSTART:20240101T100000Z",
		"RRULE:FREQ=DAILY",
		"RDATE:20240105T100000Z",
		"EXDATE:20240110T100000Z",
		"EXDATE:20240109T100000Z",
	}, s.Lines())
}

func TestHasRecurrenceRule(t *testing.T) {
	ok, err := HasRecurrenceRule([]string{"RRULE:FREQ=DAILY"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = HasRecurrenceRule([]string{"DTSTART:20240101T100000Z", "RDATE:20240115T100000Z", "EXDATE:20240116T100000Z"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = HasRecurrenceRule(nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = HasRecurrenceRule([]string{"RRULE:FREQ=NEVER"})
	assert.ErrorIs(t, err, ErrGrammar)
}

func TestBetween_DailyCountWithExdate(t *testing.T) {
	s, err := Parse([]string{
		"DTSTART:20240101T100000Z",
		"RRULE:FREQ=DAILY;COUNT=5",
		"EXDATE:20240102T100000Z",
	}, "")
	require.NoError(t, err)

	got, err := s.Between(utc("2024-01-01"), utc("2024-01-06"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-01-01T10:00:00.000Z",
		"2024-01-03T10:00:00.000Z",
		"2024-01-04T10:00:00.000Z",
		"2024-01-05T10:00:00.000Z",
	}, isoList(got))
}

func TestBetween_WeeklyWithCoincidingRDate(t *testing.T) {
	s, err := Parse([]string{"RRULE:FREQ=WEEKLY;BYDAY=MO", "RDATE:20240115T100000Z"}, "UTC")
	require.NoError(t, err)

	_, err = s.Between(utc("2024-01-01"), utc("2024-02-01"), true)
	require.ErrorIs(t, err, ErrNoAnchor)

	got, err := s.WithAnchor(utc("2024-01-01T10:00:00")).Between(utc("2024-01-01"), utc("2024-02-01"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-01-01T10:00:00.000Z",
		"2024-01-08T10:00:00.000Z",
		"2024-01-15T10:00:00.000Z",
		"2024-01-22T10:00:00.000Z",
		"2024-01-29T10:00:00.000Z",
	}, isoList(got))
}

func TestBetween_RDateOnlyNeedsNoAnchor(t *testing.T) {
	s, err := Parse([]string{"RDATE:20240125T100000Z,20240115T100000Z,20240301T100000Z"}, "")
	require.NoError(t, err)

	got, err := s.Between(utc("2024-01-01"), utc("2024-02-01"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-15T10:00:00.000Z", "2024-01-25T10:00:00.000Z"}, isoList(got))
}

func TestBetween_DTStartZoneAcrossDST(t *testing.T) {
	s, err := Parse([]string{
		"DTSTART;TZID=America/New_York:20240308T100000",
		"RRULE:FREQ=DAILY;COUNT=4",
	}, "")
	require.NoError(t, err)

	got, err := s.Between(utc("2024-03-01"), utc("2024-04-01"), true)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for _, in := range got {
		assert.Equal(t, 10, in.Hour())
		assert.Equal(t, "America/New_York", in.TimeZone())
	}
	assert.Equal(t, 15, got[1].Time().UTC().Hour())
	assert.Equal(t, 14, got[2].Time().UTC().Hour())
}

func TestBetween_FloatingUntilReadInDTStartZone(t *testing.T) {
	s, err := Parse([]string{
		"DTSTART;TZID=America/New_York:20240101T100000",
		"RRULE:FREQ=DAILY;UNTIL=20240103T100000",
	}, "")
	require.NoError(t, err)

	got, err := s.Between(utc("2023-12-01"), utc("2024-02-01"), true)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestBetween_ExRule(t *testing.T) {
	s, err := Parse([]string{
		"DTSTART:20240101T090000Z",
		"RRULE:FREQ=DAILY;COUNT=14",
		"EXRULE:FREQ=WEEKLY;BYDAY=SA,SU",
	}, "")
	require.NoError(t, err)

	got, err := s.Between(utc("2024-01-01"), utc("2024-01-31"), true)
	require.NoError(t, err)
	assert.Len(t, got, 10)
	for _, in := range got {
		assert.NotContains(t, []int{0, 6}, int(in.Weekday()))
	}
}

func TestBetween_WindowBounds(t *testing.T) {
	s, err := Parse([]string{"DTSTART:20240101T100000Z", "RRULE:FREQ=DAILY;COUNT=5"}, "")
	require.NoError(t, err)

	from, to := utc("2024-01-02T10:00:00"), utc("2024-01-04T10:00:00")

	got, err := s.Between(from, to, true)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = s.Between(from, to, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-03T10:00:00.000Z"}, isoList(got))

	_, err = s.Between(to, from, true)
	require.ErrorIs(t, err, ErrWindow)
}

func TestBetween_NeverLeavesWindowOrDuplicates(t *testing.T) {
	s, err := Parse([]string{
		"DTSTART;TZID=Europe/Berlin:20230115T083000",
		"RRULE:FREQ=WEEKLY;BYDAY=MO,TH",
		"RRULE:FREQ=MONTHLY;BYMONTHDAY=15",
		"RDATE:20240115T073000Z,20240118T073000Z",
		"EXDATE;TZID=Europe/Berlin:20240122T083000",
	}, "")
	require.NoError(t, err)

	from, to := utc("2024-01-01"), utc("2024-03-01")
	got, err := s.Between(from, to, true)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	seen := map[int64]bool{}
	for i, in := range got {
		assert.False(t, in.Before(from) || in.After(to), in.String())
		assert.False(t, seen[in.UnixMilli()], "duplicate %s", in)
		seen[in.UnixMilli()] = true
		if i > 0 {
			assert.True(t, got[i-1].Before(in))
		}
	}
	assert.False(t, seen[tzdate.MustParse("2024-01-22T08:30:00", "Europe/Berlin").UnixMilli()])
}

func TestBetweenLimit_Truncates(t *testing.T) {
	s, err := Parse([]string{"DTSTART:20240101T100000Z", "RRULE:FREQ=DAILY"}, "")
	require.NoError(t, err)

	res, err := s.BetweenLimit(utc("2024-01-01"), utc("2025-01-01"), true, 10)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Instants, 10)

	res, err = s.BetweenLimit(utc("2024-01-01"), utc("2024-01-05"), true, 10)
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Len(t, res.Instants, 4)
}

func TestWithAnchor_DTStartWins(t *testing.T) {
	s, err := Parse([]string{"DTSTART:20240101T100000Z", "RRULE:FREQ=DAILY;COUNT=2"}, "")
	require.NoError(t, err)

	got, err := s.WithAnchor(utc("2024-06-01T08:00:00")).Between(utc("2024-01-01"), utc("2024-12-31"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01T10:00:00.000Z", "2024-01-02T10:00:00.000Z"}, isoList(got))
}

func TestAddDates_PreservesSiblings(t *testing.T) {
	lines := []string{"RRULE:FREQ=WEEKLY;BYDAY=MO", "EXRULE:FREQ=MONTHLY;BYMONTHDAY=1"}
	d1 := utc("2024-01-16T10:00:00")
	d2 := utc("2024-01-22T10:00:00")

	withEx, err := AddExclusionDate(lines, d1)
	require.NoError(t, err)
	got, err := AddInclusionDate(withEx, d2)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"RRULE:FREQ=WEEKLY;BYDAY=MO",
		"EXRULE:FREQ=MONTHLY;BYMONTHDAY=1",
		"RDATE:20240122T100000Z",
		"EXDATE:20240116T100000Z",
	}, got)
	assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;BYDAY=MO", "EXRULE:FREQ=MONTHLY;BYMONTHDAY=1"}, lines)
}

func TestAddInclusionDate_EmptyAndDuplicate(t *testing.T) {
	got, err := AddInclusionDate(nil, tzdate.MustParse("2024-01-15T19:00:00", "Asia/Tokyo"))
	require.NoError(t, err)
	assert.Equal(t, []string{"RDATE:20240115T100000Z"}, got)

	again, err := AddInclusionDate(got, utc("2024-01-15T10:00:00"))
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestAddExclusionDate_DateBased(t *testing.T) {
	lines := []string{"DTSTART;VALUE=DATE:20240110", "RRULE:FREQ=WEEKLY;COUNT=3"}

	got, err := AddExclusionDate(lines, utc("2024-01-17"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"DTSTART;VALUE=DATE:20240110",
		"RRULE:FREQ=WEEKLY;COUNT=3",
		"EXDATE;VALUE=DATE:20240117",
	}, got)

	s, err := Parse(got, "UTC")
	require.NoError(t, err)
	occ, err := s.Between(utc("2024-01-01"), utc("2024-02-01"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-10T00:00:00.000Z", "2024-01-24T00:00:00.000Z"}, isoList(occ))
}

func TestAddRemove_Inverse(t *testing.T) {
	lines := []string{"DTSTART:20240101T100000Z", "RRULE:FREQ=DAILY", "EXDATE:20240103T100000Z"}
	d := tzdate.MustParse("2024-02-01T15:00:00", "Asia/Tokyo")

	added, err := AddInclusionDate(lines, d)
	require.NoError(t, err)
	assert.Contains(t, added, "RDATE:20240201T060000Z")

	removed, err := RemoveInclusionDate(added, d, "Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, lines, removed)

	added, err = AddExclusionDate(lines, d)
	require.NoError(t, err)
	removed, err = RemoveExclusionDate(added, d, "UTC")
	require.NoError(t, err)
	assert.Equal(t, lines, removed)
}

func TestAddRemove_InverseWithMilliseconds(t *testing.T) {
	lines := []string{"RRULE:FREQ=DAILY;COUNT=5"}
	d := tzdate.MustParse("2024-01-20T10:00:00.500", "UTC")

	added, err := AddInclusionDate(lines, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"RRULE:FREQ=DAILY;COUNT=5", "RDATE:20240120T100000Z"}, added)

	removed, err := RemoveInclusionDate(added, d, "UTC")
	require.NoError(t, err)
	assert.Equal(t, lines, removed)

	added, err = AddExclusionDate(lines, d)
	require.NoError(t, err)
	removed, err = RemoveExclusionDate(added, d, "UTC")
	require.NoError(t, err)
	assert.Equal(t, lines, removed)
}

func TestAddRemove_InverseDateBased(t *testing.T) {
	lines := []string{"DTSTART;VALUE=DATE:20240103", "RRULE:FREQ=WEEKLY;COUNT=4"}
	d := tzdate.MustParse("2024-01-17T15:30:00", "Asia/Seoul")

	added, err := AddExclusionDate(lines, d)
	require.NoError(t, err)
	assert.Contains(t, added, "EXDATE;VALUE=DATE:20240117")

	removed, err := RemoveExclusionDate(added, d, "Asia/Seoul")
	require.NoError(t, err)
	assert.Equal(t, lines, removed)
}

func TestWithAnchor_NilSet(t *testing.T) {
	set, err := Parse([]string{"", "  "}, "UTC")
	require.NoError(t, err)
	require.Nil(t, set)

	anchored := set.WithAnchor(utc("2024-01-01T09:00:00"))
	assert.Nil(t, anchored)
	assert.False(t, anchored.HasRRule())

	got, err := anchored.Between(utc("2024-01-01T00:00:00"), utc("2024-02-01T00:00:00"), true)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRemove_NoMatchReturnsCopy(t *testing.T) {
	lines := []string{"RRULE:FREQ=DAILY", "RDATE:20240115T100000Z"}

	got, err := RemoveInclusionDate(lines, utc("2024-01-16T10:00:00"), "UTC")
	require.NoError(t, err)
	assert.Equal(t, lines, got)

	got[0] = "changed"
	assert.Equal(t, "RRULE:FREQ=DAILY", lines[0])

	got, err = RemoveExclusionDate(nil, utc("2024-01-16T10:00:00"), "UTC")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRemove_FromCommaGroup(t *testing.T) {
	got, err := RemoveInclusionDate([]string{"RDATE:20240115T100000Z,20240125T100000Z"}, utc("2024-01-15T10:00:00"), "UTC")
	require.NoError(t, err)
	assert.Equal(t, []string{"RDATE:20240125T100000Z"}, got)
}

func TestRemove_FloatingValueResolvedInTimezone(t *testing.T) {
	lines := []string{"RDATE:20240115T100000"}

	got, err := RemoveInclusionDate(lines, utc("2024-01-15T10:00:00"), "Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, lines, got)

	got, err = RemoveInclusionDate(lines, tzdate.MustParse("2024-01-15T10:00:00", "Asia/Tokyo"), "Asia/Tokyo")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInclusionDates(t *testing.T) {
	got, err := InclusionDates([]string{"RRULE:FREQ=DAILY", "RDATE:20240125T100000Z,20240115T100000Z"}, "Asia/Tokyo")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-01-15T19:00:00.000", got[0].ISO())
	assert.Equal(t, "2024-01-25T19:00:00.000", got[1].ISO())

	ex, err := ExclusionDates(nil, "UTC")
	require.NoError(t, err)
	assert.Empty(t, ex)

	_, err = ExclusionDates([]string{"EXDATE:bogus"}, "UTC")
	assert.ErrorIs(t, err, ErrGrammar)
}

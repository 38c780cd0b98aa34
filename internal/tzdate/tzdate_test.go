package tzdate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AcceptsStrictISO(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"date only", "2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"date time", "2024-01-15T14:30:45", time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC)},
		{"milliseconds", "2024-01-15T14:30:45.123", time.Date(2024, 1, 15, 14, 30, 45, 123e6, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in, "")
			require.NoError(t, err)
			assert.True(t, got.Time().Equal(tt.want), "got %s", got)
			assert.Equal(t, UTC, got.TimeZone())
		})
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"2024-01-15T14:30:45Z",
		"2024-01-15T14:30:45+09:00",
		"2024-1-15",
		"2024-01-15T14:30",
		"2024-01-15T14:30:45.12",
		"20240115",
		"2024-02-30",
		"",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in, "UTC")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat))
			assert.Contains(t, err.Error(), "YYYY-MM-DD")
		})
	}
}

func TestParse_UnknownZone(t *testing.T) {
	_, err := Parse("2024-01-15", "Mars/Olympus_Mons")
	require.ErrorIs(t, err, ErrFormat)
}

func TestWithTimeZone_PreservesInstant(t *testing.T) {
	tokyo := MustParse("2024-01-15T14:30:45", "Asia/Tokyo")

	utc, err := tokyo.WithTimeZone("UTC")
	require.NoError(t, err)

	assert.Equal(t, tokyo.UnixMilli(), utc.UnixMilli())
	assert.True(t, tokyo.Equal(utc))
	assert.Equal(t, 5, utc.Hour())
	assert.Equal(t, 30, utc.Minute())
	assert.Equal(t, 45, utc.Second())
	assert.Equal(t, 14, tokyo.Hour(), "receiver must not change")
	assert.Equal(t, "Asia/Tokyo", tokyo.TimeZone())
}

func TestAddDays_CalendarArithmetic(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"month rollover", "2024-01-31T09:15:00", 1, "2024-02-01T09:15:00.000"},
		{"leap day", "2024-02-28T09:15:00", 1, "2024-02-29T09:15:00.000"},
		{"year rollover", "2023-12-31T23:45:00", 1, "2024-01-01T23:45:00.000"},
		{"negative", "2024-03-01T00:00:00", -1, "2024-02-29T00:00:00.000"},
		{"zero", "2024-03-01T00:00:00", 0, "2024-03-01T00:00:00.000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := MustParse(tt.in, "Europe/Berlin")
			got := in.AddDays(tt.n)
			assert.Equal(t, tt.want, got.ISO())
			assert.Equal(t, "Europe/Berlin", got.TimeZone())
		})
	}
}

func TestAddDays_AcrossDST(t *testing.T) {
	// 2024-03-10 is the spring-forward day in New York.
	in := MustParse("2024-03-09T10:00:00", "America/New_York")
	next := in.AddDays(1)

	assert.Equal(t, "2024-03-10T10:00:00.000", next.ISO())
	assert.Equal(t, 23*time.Hour, next.Sub(in))
}

func TestStartAndEndOfDay(t *testing.T) {
	in := MustParse("2024-01-15T14:30:45.500", "Asia/Seoul")

	assert.Equal(t, "2024-01-15T00:00:00.000", in.StartOfDay().ISO())
	assert.Equal(t, "2024-01-15T23:59:59.999", in.EndOfDay().ISO())
	assert.Equal(t, "Asia/Seoul", in.EndOfDay().TimeZone())
	assert.Equal(t, "2024-01-15T14:30:45.500", in.ISO())
}

func TestDate_Components(t *testing.T) {
	in, err := Date(2024, 2, 29, 23, 45, 0, 0, "Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29T23:45:00.000+09:00", in.String())

	_, err = Date(2023, 2, 29, 0, 0, 0, 0, "")
	require.ErrorIs(t, err, ErrFormat)

	_, err = Date(2024, 13, 1, 0, 0, 0, 0, "")
	require.ErrorIs(t, err, ErrFormat)
}

func TestFromUnixMilliAndFromTime(t *testing.T) {
	ms := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC).UnixMilli()

	a, err := FromUnixMilli(ms, "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, 5, a.Hour())

	b, err := FromTime(time.UnixMilli(ms), "")
	require.NoError(t, err)
	assert.Equal(t, UTC, b.TimeZone())
	assert.True(t, a.Equal(b))
	assert.Equal(t, 0, a.Compare(b))
}

func TestNow_UsesInjectedClock(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 123456789, time.FixedZone("X", 3600))
	now := Now(func() time.Time { return fixed })

	assert.Equal(t, UTC, now.TimeZone())
	assert.Equal(t, 11, now.Hour())
	assert.Equal(t, 123, now.Millisecond())
}

func TestMarshalJSON(t *testing.T) {
	in := MustParse("2024-01-15T10:00:00", "UTC")
	b, err := in.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-15T10:00:00.000Z"`, string(b))
}

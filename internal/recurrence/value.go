package recurrence

import (
	"fmt"
	"strings"
	"time"

	"attendcal/internal/tzdate"
)

type valueKind int

const (
	kindUTC      valueKind = iota // 20240115T100000Z
	kindZoned                     // TZID=...:20240115T100000
	kindFloating                  // 20240115T100000, resolved in the default zone
	kindDate                      // 20240115
)

const (
	layoutUTC      = "20060102T150405Z"
	layoutDateTime = "20060102T150405"
	layoutDate     = "20060102"
)

// dateValue is one DTSTART/RDATE/EXDATE value. raw and params are kept so
// that untouched values serialize back as written. group ties together
// values that arrived comma-joined on one line.
type dateValue struct {
	at     tzdate.Instant
	kind   valueKind
	raw    string
	params []param
	group  int
}

func (v dateValue) tzid() string {
	for _, p := range v.params {
		if p.key == "TZID" {
			return p.value
		}
	}
	return ""
}

// valueParams validates the parameters allowed on DTSTART/RDATE/EXDATE and
// returns them in canonical order (VALUE, then TZID).
func valueParams(c contentLine) ([]param, error) {
	var out []param
	if v, ok := c.param("VALUE"); ok {
		v = strings.ToUpper(v)
		switch v {
		case "DATE", "DATE-TIME":
		case "PERIOD":
			return nil, fmt.Errorf("%w: %s: VALUE=PERIOD is not supported", ErrGrammar, c.name)
		default:
			return nil, fmt.Errorf("%w: %s: invalid VALUE %q", ErrGrammar, c.name, v)
		}
		out = append(out, param{key: "VALUE", value: v})
	}
	if tz, ok := c.param("TZID"); ok {
		if _, err := tzdate.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrGrammar, c.name, err)
		}
		out = append(out, param{key: "TZID", value: tz})
	}
	for _, p := range c.params {
		switch {
		case p.key == "VALUE" || p.key == "TZID":
		case strings.HasPrefix(p.key, "X-"):
		default:
			return nil, fmt.Errorf("%w: %s: unsupported parameter %s", ErrGrammar, c.name, p.key)
		}
	}
	return out, nil
}

// parseDateValue reads one value. Floating and date values resolve in the
// TZID parameter when present, else in defaultTZ.
func parseDateValue(raw string, params []param, defaultTZ string) (dateValue, error) {
	v := dateValue{raw: strings.TrimSpace(raw), params: params}
	tzid := v.tzid()
	dateOnly := false
	for _, p := range params {
		if p.key == "VALUE" && p.value == "DATE" {
			dateOnly = true
		}
	}

	zone := defaultTZ
	if tzid != "" {
		zone = tzid
	}
	loc, err := tzdate.LoadLocation(zone)
	if err != nil {
		return v, fmt.Errorf("%w: %v", ErrGrammar, err)
	}

	var t time.Time
	switch {
	case len(v.raw) == len(layoutDate):
		t, err = time.ParseInLocation(layoutDate, v.raw, loc)
		v.kind = kindDate
	case dateOnly:
		return v, fmt.Errorf("%w: %q is not a DATE value", ErrGrammar, v.raw)
	case len(v.raw) == len(layoutUTC) && strings.HasSuffix(v.raw, "Z"):
		if tzid != "" {
			return v, fmt.Errorf("%w: %q: UTC value cannot carry TZID", ErrGrammar, v.raw)
		}
		t, err = time.Parse(layoutUTC, v.raw)
		v.kind = kindUTC
		zone = tzdate.UTC
	case len(v.raw) == len(layoutDateTime):
		t, err = time.ParseInLocation(layoutDateTime, v.raw, loc)
		v.kind = kindFloating
		if tzid != "" {
			v.kind = kindZoned
		}
	default:
		return v, fmt.Errorf("%w: %q is not a DATE or DATE-TIME value", ErrGrammar, v.raw)
	}
	if err != nil {
		return v, fmt.Errorf("%w: %q: %v", ErrGrammar, v.raw, err)
	}

	v.at, err = tzdate.FromTime(t, zone)
	if err != nil {
		return v, fmt.Errorf("%w: %v", ErrGrammar, err)
	}
	return v, nil
}

// newUTCValue formats in as a UTC DATE-TIME value. Sub-second precision is
// dropped: RFC 5545 values carry whole seconds.
func newUTCValue(in tzdate.Instant, group int) dateValue {
	t := in.Time().UTC().Truncate(time.Second)
	at, _ := tzdate.FromTime(t, tzdate.UTC)
	return dateValue{at: at, kind: kindUTC, raw: t.Format(layoutUTC), group: group}
}

// newDateValue formats the wall-clock date of in as a DATE value.
func newDateValue(in tzdate.Instant, group int) dateValue {
	return dateValue{
		at:     in.StartOfDay(),
		kind:   kindDate,
		raw:    in.Time().Format(layoutDate),
		params: []param{{key: "VALUE", value: "DATE"}},
		group:  group,
	}
}

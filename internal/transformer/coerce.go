package transformer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"catalogetl/internal/records"
)

// coercer converts raw record values to typed fields. The first failure is
// sticky; later calls become no-ops so the reported field is the first one
// in declaration order.
type coercer struct {
	rec      records.Record
	err      error
	errField string
}

func (c *coercer) fail(field string, err error) {
	if c.err == nil {
		c.err = err
		c.errField = field
	}
}

func (c *coercer) requiredString(field string) string {
	if c.err != nil {
		return ""
	}
	v, ok := c.rec[field]
	if !ok || v == nil {
		c.fail(field, errors.New("required field missing"))
		return ""
	}
	s, ok := v.(string)
	if !ok {
		c.fail(field, fmt.Errorf("expected string, got %T", v))
		return ""
	}
	return s
}

func (c *coercer) optionalString(field string) *string {
	if c.err != nil {
		return nil
	}
	v, ok := c.rec[field]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		c.fail(field, fmt.Errorf("expected string, got %T", v))
		return nil
	}
	return &s
}

func (c *coercer) requiredTime(field string) time.Time {
	if c.err != nil {
		return time.Time{}
	}
	v, ok := c.rec[field]
	if !ok || v == nil {
		c.fail(field, errors.New("required field missing"))
		return time.Time{}
	}
	t, err := toTime(v)
	if err != nil {
		c.fail(field, err)
		return time.Time{}
	}
	return t
}

func (c *coercer) requiredScore(field string) float64 {
	if c.err != nil {
		return 0
	}
	v, ok := c.rec[field]
	if !ok || v == nil {
		c.fail(field, errors.New("required field missing"))
		return 0
	}
	f, err := toFloat(v)
	if err != nil {
		c.fail(field, err)
		return 0
	}
	return f
}

func (c *coercer) optionalFloat(field string) *float64 {
	if c.err != nil {
		return nil
	}
	v, ok := c.rec[field]
	if !ok || v == nil {
		return nil
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return nil
	}
	f, err := toFloat(v)
	if err != nil {
		c.fail(field, err)
		return nil
	}
	return &f
}

// toFloat accepts JSON numbers and numeric strings. Booleans are rejected
// even though cast would map them to 0 and 1.
func toFloat(v any) (float64, error) {
	var (
		f   float64
		err error
	)
	switch x := v.(type) {
	case json.Number:
		f, err = x.Float64()
	case bool:
		return 0, fmt.Errorf("expected number, got bool")
	case string:
		f, err = cast.ToFloat64E(strings.TrimSpace(x))
	case float64, float32, int, int64, int32:
		f, err = cast.ToFloat64E(x)
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	if err != nil {
		return 0, fmt.Errorf("not a number: %v", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite number %v", v)
	}
	return f, nil
}

// toTime accepts ISO-8601 style strings and Unix epoch seconds, either as a
// JSON number or a numeric string. Values without a zone are read as UTC;
// the result is always in UTC.
func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case json.Number:
		return epoch(string(x))
	case float64, int64, int:
		return epoch(cast.ToString(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, errors.New("empty timestamp")
		}
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(s)
		}
		t, err := cast.ToTimeInDefaultLocationE(s, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("expected timestamp, got %T", v)
	}
}

func epoch(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("unparseable epoch %q", s)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

package query

import (
	"strconv"
	"strings"
	"time"
)

// StringFilter is the uniform operator set for string-valued fields.
type StringFilter struct {
	Eq     *string
	Neq    *string
	In     []string
	Nin    []string
	Like   *string
	Nlike  *string
	Ilike  *string
	IsNull *bool
	And    []StringFilter
	Or     []StringFilter
}

// Match reports whether value satisfies the filter.
func (f StringFilter) Match(value string, isNull bool) bool {
	if f.IsNull != nil {
		if *f.IsNull != isNull {
			return false
		}
		if isNull {
			return true
		}
	}
	if f.Eq != nil && value != *f.Eq {
		return false
	}
	if f.Neq != nil && value == *f.Neq {
		return false
	}
	if f.In != nil && !contains(f.In, value) {
		return false
	}
	if f.Nin != nil && contains(f.Nin, value) {
		return false
	}
	if f.Like != nil && !strings.Contains(value, *f.Like) {
		return false
	}
	if f.Nlike != nil && strings.Contains(value, *f.Nlike) {
		return false
	}
	if f.Ilike != nil && !strings.Contains(strings.ToLower(value), strings.ToLower(*f.Ilike)) {
		return false
	}
	for _, and := range f.And {
		if !and.Match(value, isNull) {
			return false
		}
	}
	if len(f.Or) > 0 {
		matched := false
		for _, or := range f.Or {
			if or.Match(value, isNull) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// IntFilter is the uniform operator set for integer-valued fields.
type IntFilter struct {
	Eq     *int64
	Neq    *int64
	Gt     *int64
	Gte    *int64
	Lt     *int64
	Lte    *int64
	In     []int64
	IsNull *bool
	And    []IntFilter
	Or     []IntFilter
}

// Match reports whether value satisfies the filter.
func (f IntFilter) Match(value int64, isNull bool) bool {
	if f.IsNull != nil {
		if *f.IsNull != isNull {
			return false
		}
		if isNull {
			return true
		}
	}
	if f.Eq != nil && value != *f.Eq {
		return false
	}
	if f.Neq != nil && value == *f.Neq {
		return false
	}
	if f.Gt != nil && value <= *f.Gt {
		return false
	}
	if f.Gte != nil && value < *f.Gte {
		return false
	}
	if f.Lt != nil && value >= *f.Lt {
		return false
	}
	if f.Lte != nil && value > *f.Lte {
		return false
	}
	if f.In != nil {
		found := false
		for _, v := range f.In {
			if v == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, and := range f.And {
		if !and.Match(value, isNull) {
			return false
		}
	}
	if len(f.Or) > 0 {
		matched := false
		for _, or := range f.Or {
			if or.Match(value, isNull) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// TimestampFilter is the uniform operator set for timestamp-valued fields.
type TimestampFilter struct {
	Eq     *time.Time
	Neq    *time.Time
	Gt     *time.Time
	Gte    *time.Time
	Lt     *time.Time
	Lte    *time.Time
	IsNull *bool
	And    []TimestampFilter
	Or     []TimestampFilter
}

// Match reports whether value satisfies the filter.
func (f TimestampFilter) Match(value time.Time, isNull bool) bool {
	if f.IsNull != nil {
		if *f.IsNull != isNull {
			return false
		}
		if isNull {
			return true
		}
	}
	if f.Eq != nil && !value.Equal(*f.Eq) {
		return false
	}
	if f.Neq != nil && value.Equal(*f.Neq) {
		return false
	}
	if f.Gt != nil && !value.After(*f.Gt) {
		return false
	}
	if f.Gte != nil && value.Before(*f.Gte) {
		return false
	}
	if f.Lt != nil && !value.Before(*f.Lt) {
		return false
	}
	if f.Lte != nil && value.After(*f.Lte) {
		return false
	}
	for _, and := range f.And {
		if !and.Match(value, isNull) {
			return false
		}
	}
	if len(f.Or) > 0 {
		matched := false
		for _, or := range f.Or {
			if or.Match(value, isNull) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// BoolFilter supports only equality.
type BoolFilter struct {
	Eq *bool
}

// Match reports whether value satisfies the filter.
func (f BoolFilter) Match(value bool) bool {
	return f.Eq == nil || *f.Eq == value
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// ParseInt64 is a small helper for transport layers decoding int filter
// operands out of untyped JSON.
func ParseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

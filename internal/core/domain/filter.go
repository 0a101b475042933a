package domain

import (
	"sort"
	"strings"
)

// Field is a payload field that supports request-time filtering.
type Field string

const (
	FieldLocation        Field = "location"
	FieldProduct         Field = "product"
	FieldCrop            Field = "crop"
	FieldSeason          Field = "season"
	FieldApplicant       Field = "applicant"
	FieldCooperator      Field = "cooperator"
	FieldFormType        Field = "form_type"
	FieldProductCategory Field = "product_category"
	FieldApplicationDate Field = "application_date"
	FieldPlantingDate    Field = "planting_date"
)

// MatchPolicy selects how a filter value is compared with a document value.
type MatchPolicy int

const (
	MatchText MatchPolicy = iota
	MatchLocation
	MatchDate
)

// Fields lists every filterable field in canonical evaluation order.
var Fields = []Field{
	FieldLocation,
	FieldProduct,
	FieldCrop,
	FieldSeason,
	FieldApplicant,
	FieldCooperator,
	FieldFormType,
	FieldProductCategory,
	FieldApplicationDate,
	FieldPlantingDate,
}

var fieldOrder = func() map[Field]int {
	out := make(map[Field]int, len(Fields))
	for i, f := range Fields {
		out[f] = i
	}
	return out
}()

func (f Field) Valid() bool {
	_, ok := fieldOrder[f]
	return ok
}

func (f Field) Policy() MatchPolicy {
	switch f {
	case FieldApplicationDate, FieldPlantingDate:
		return MatchDate
	case FieldLocation:
		return MatchLocation
	default:
		return MatchText
	}
}

// PayloadCooperative is the payload key holding the tenant. It is deliberately
// not a Field: tenant matching is never caller-optional.
const PayloadCooperative = "cooperative"

// Filter is one optional field constraint.
type Filter struct {
	Field Field
	Value string
}

// FilterSet is an immutable set of filters; every entry must match (AND).
type FilterSet struct {
	filters []Filter
}

// NewFilterSet validates and orders filters. Blank values are dropped, a
// repeated field keeps the last value.
func NewFilterSet(filters ...Filter) (FilterSet, error) {
	byField := make(map[Field]string, len(filters))
	for _, f := range filters {
		if string(f.Field) == PayloadCooperative {
			return FilterSet{}, &FilterError{Field: PayloadCooperative, Reason: "tenant is taken from the request context, not from filters"}
		}
		if !f.Field.Valid() {
			return FilterSet{}, &FilterError{Field: string(f.Field), Reason: "unknown filter field"}
		}
		value := strings.TrimSpace(f.Value)
		if value == "" {
			delete(byField, f.Field)
			continue
		}
		if f.Field.Policy() == MatchDate && !validDateFilter(value) {
			return FilterSet{}, &FilterError{Field: string(f.Field), Reason: "expected YYYY, YYYY-MM or YYYY-MM-DD"}
		}
		byField[f.Field] = value
	}

	out := make([]Filter, 0, len(byField))
	for field, value := range byField {
		out = append(out, Filter{Field: field, Value: value})
	}
	sort.Slice(out, func(i, j int) bool {
		return fieldOrder[out[i].Field] < fieldOrder[out[j].Field]
	})
	return FilterSet{filters: out}, nil
}

// ParseFilterSet builds a FilterSet from loosely typed input such as a JSON
// object or tool arguments.
func ParseFilterSet(raw map[string]string) (FilterSet, error) {
	filters := make([]Filter, 0, len(raw))
	for name, value := range raw {
		filters = append(filters, Filter{Field: Field(strings.ToLower(strings.TrimSpace(name))), Value: value})
	}
	return NewFilterSet(filters...)
}

func (s FilterSet) Len() int { return len(s.filters) }

func (s FilterSet) Empty() bool { return len(s.filters) == 0 }

// Filters returns a copy of the filters in canonical order.
func (s FilterSet) Filters() []Filter {
	out := make([]Filter, len(s.filters))
	copy(out, s.filters)
	return out
}

func (s FilterSet) Get(field Field) (string, bool) {
	for _, f := range s.filters {
		if f.Field == field {
			return f.Value, true
		}
	}
	return "", false
}

func validDateFilter(v string) bool {
	switch len(v) {
	case 4:
		return allDigits(v)
	case 7:
		return allDigits(v[:4]) && v[4] == '-' && allDigits(v[5:])
	case 10:
		return allDigits(v[:4]) && v[4] == '-' && allDigits(v[5:7]) && v[7] == '-' && allDigits(v[8:])
	default:
		return false
	}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

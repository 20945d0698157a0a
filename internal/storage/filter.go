package storage

import (
	"fmt"
	"sort"
	"strings"
)

// clauseOp is a filter comparison operator.
type clauseOp int

const (
	opEq clauseOp = iota
	opNe
	opIn
	opPresent
)

type clause struct {
	op     clauseOp
	field  string
	value  any
	values []string
}

// Filter is a conjunction of per-field clauses over indexed bucket fields.
// It renders to an LDAP-style filter string for the wire and evaluates
// directly against rows for the embedded backends.
type Filter struct {
	clauses []clause
}

// NewFilter returns an empty filter matching every row.
func NewFilter() *Filter {
	return &Filter{}
}

// Eq adds a field equality clause.
func (f *Filter) Eq(field string, value any) *Filter {
	f.clauses = append(f.clauses, clause{op: opEq, field: field, value: value})
	return f
}

// Ne adds a field negation clause.
func (f *Filter) Ne(field string, value any) *Filter {
	f.clauses = append(f.clauses, clause{op: opNe, field: field, value: value})
	return f
}

// In adds a membership clause: the field must equal one of values.
func (f *Filter) In(field string, values []string) *Filter {
	f.clauses = append(f.clauses, clause{op: opIn, field: field, values: append([]string(nil), values...)})
	return f
}

// Present adds a presence clause: the field must be set.
func (f *Filter) Present(field string) *Filter {
	f.clauses = append(f.clauses, clause{op: opPresent, field: field})
	return f
}

// Empty reports whether the filter has no clauses.
func (f *Filter) Empty() bool {
	return f == nil || len(f.clauses) == 0
}

// Validate checks every referenced field against the bucket's index
// allow-list. A clause over a non-indexed field would silently match every
// row, so it is an error rather than being dropped.
func (f *Filter) Validate(b Bucket) error {
	if f == nil {
		return nil
	}
	var bad []string
	for _, c := range f.clauses {
		if _, ok := b.Indexes[c.field]; !ok {
			bad = append(bad, c.field)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("%w: bucket %s: %s", ErrNotIndexed, b.Name, strings.Join(bad, ", "))
	}
	return nil
}

// String renders the filter in LDAP syntax, e.g.
// (&(nic_tag=external)(!(owner_uuid=abc))).
func (f *Filter) String() string {
	if f.Empty() {
		return ""
	}
	parts := make([]string, 0, len(f.clauses))
	for _, c := range f.clauses {
		switch c.op {
		case opEq:
			parts = append(parts, fmt.Sprintf("(%s=%v)", c.field, c.value))
		case opNe:
			parts = append(parts, fmt.Sprintf("(!(%s=%v))", c.field, c.value))
		case opIn:
			sub := make([]string, 0, len(c.values))
			for _, v := range c.values {
				sub = append(sub, fmt.Sprintf("(%s=%s)", c.field, v))
			}
			parts = append(parts, "(|"+strings.Join(sub, "")+")")
		case opPresent:
			parts = append(parts, fmt.Sprintf("(%s=*)", c.field))
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(&" + strings.Join(parts, "") + ")"
}

// Matches evaluates the filter against one row.
func (f *Filter) Matches(row Row) bool {
	if f.Empty() {
		return true
	}
	for _, c := range f.clauses {
		if !c.matches(row) {
			return false
		}
	}
	return true
}

func (c clause) matches(row Row) bool {
	v, present := row[c.field]
	if present && v == nil {
		present = false
	}
	switch c.op {
	case opPresent:
		return present
	case opEq:
		return present && fieldEquals(v, c.value)
	case opNe:
		return !present || !fieldEquals(v, c.value)
	case opIn:
		if !present {
			return false
		}
		for _, want := range c.values {
			if fieldEquals(v, want) {
				return true
			}
		}
		return false
	}
	return false
}

// fieldEquals compares a stored value with a filter value, tolerating the
// numeric-type drift JSON round-trips introduce, and treating array-valued
// fields as "contains".
func fieldEquals(stored, want any) bool {
	switch sv := stored.(type) {
	case []string:
		for _, e := range sv {
			if fieldEquals(e, want) {
				return true
			}
		}
		return false
	case []any:
		for _, e := range sv {
			if fieldEquals(e, want) {
				return true
			}
		}
		return false
	}
	return fmt.Sprintf("%v", stored) == fmt.Sprintf("%v", want)
}

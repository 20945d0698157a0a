package params

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/joshwilsdon-forks/sdc-napi/internal/cidr"
)

// Common field validators shared by the model packages. Each returns the
// normalized value; string inputs are accepted for numeric fields since
// request parameters arrive untyped.

// UUID validates a UUID string.
func UUID(ctx context.Context, pctx *Context, name string, value any) (Result, error) {
	s, ok := value.(string)
	if !ok {
		return Result{}, Invalid(name, "must be a string")
	}
	if _, err := uuid.Parse(s); err != nil {
		return Result{}, Invalid(name, "invalid UUID", s)
	}
	return Result{Value: strings.ToLower(s)}, nil
}

// UUIDArray validates an array of UUID strings, reporting every invalid
// element at once.
func UUIDArray(ctx context.Context, pctx *Context, name string, value any) (Result, error) {
	var raw []string
	switch v := value.(type) {
	case []string:
		raw = v
	case []any:
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return Result{}, Invalid(name, "must be an array of strings")
			}
			raw = append(raw, s)
		}
	case string:
		raw = strings.Split(v, ",")
	default:
		return Result{}, Invalid(name, "must be an array of strings")
	}

	var bad []string
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if _, err := uuid.Parse(s); err != nil {
			bad = append(bad, s)
			continue
		}
		out = append(out, strings.ToLower(s))
	}
	if len(bad) > 0 {
		return Result{}, Invalid(name, "invalid UUID", bad...)
	}
	return Result{Value: out}, nil
}

// Bool validates a boolean, accepting "true"/"false" strings.
func Bool(ctx context.Context, pctx *Context, name string, value any) (Result, error) {
	switch v := value.(type) {
	case bool:
		return Result{Value: v}, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Result{}, Invalid(name, "must be a boolean value", v)
		}
		return Result{Value: b}, nil
	}
	return Result{}, Invalid(name, "must be a boolean value")
}

// String validates a non-empty string.
func String(ctx context.Context, pctx *Context, name string, value any) (Result, error) {
	s, ok := value.(string)
	if !ok {
		return Result{}, Invalid(name, "must be a string")
	}
	if strings.TrimSpace(s) == "" {
		return Result{}, Invalid(name, "must not be empty")
	}
	return Result{Value: s}, nil
}

// Enum returns a validator accepting only the given string values.
func Enum(allowed ...string) ValidateFn {
	return func(ctx context.Context, pctx *Context, name string, value any) (Result, error) {
		s, ok := value.(string)
		if !ok {
			return Result{}, Invalid(name, "must be a string")
		}
		for _, a := range allowed {
			if s == a {
				return Result{Value: s}, nil
			}
		}
		return Result{}, Invalid(name,
			fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")), s)
	}
}

// IntRange returns a validator for an integer within [min, max], accepting
// numeric strings.
func IntRange(min, max int64) ValidateFn {
	return func(ctx context.Context, pctx *Context, name string, value any) (Result, error) {
		var n int64
		switch v := value.(type) {
		case int:
			n = int64(v)
		case int64:
			n = v
		case uint32:
			n = int64(v)
		case float64:
			n = int64(v)
			if float64(n) != v {
				return Result{}, Invalid(name, "must be an integer")
			}
		case string:
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Result{}, Invalid(name, "must be an integer", v)
			}
			n = parsed
		default:
			return Result{}, Invalid(name, "must be an integer")
		}
		if n < min || n > max {
			return Result{}, Invalid(name,
				fmt.Sprintf("must be between %d and %d", min, max),
				strconv.FormatInt(n, 10))
		}
		return Result{Value: n}, nil
	}
}

// IP validates an IPv4 address and normalizes it to netip.Addr.
func IP(ctx context.Context, pctx *Context, name string, value any) (Result, error) {
	s, ok := value.(string)
	if !ok {
		return Result{}, Invalid(name, "must be a string")
	}
	a, err := cidr.ParseIPv4(s)
	if err != nil {
		return Result{}, Invalid(name, "invalid IP address", s)
	}
	return Result{Value: a}, nil
}

// IPArray validates an array of IPv4 addresses, reporting every invalid one.
func IPArray(ctx context.Context, pctx *Context, name string, value any) (Result, error) {
	var raw []string
	switch v := value.(type) {
	case []string:
		raw = v
	case []any:
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return Result{}, Invalid(name, "must be an array of IP addresses")
			}
			raw = append(raw, s)
		}
	case string:
		raw = strings.Split(v, ",")
	default:
		return Result{}, Invalid(name, "must be an array of IP addresses")
	}

	var bad []string
	out := make([]netip.Addr, 0, len(raw))
	for _, s := range raw {
		a, err := cidr.ParseIPv4(strings.TrimSpace(s))
		if err != nil {
			bad = append(bad, s)
			continue
		}
		out = append(out, a)
	}
	if len(bad) > 0 {
		return Result{}, Invalid(name, "invalid IP address", bad...)
	}
	return Result{Value: out}, nil
}

// CIDR validates an IPv4 CIDR prefix and normalizes it to netip.Prefix.
func CIDR(ctx context.Context, pctx *Context, name string, value any) (Result, error) {
	s, ok := value.(string)
	if !ok {
		return Result{}, Invalid(name, "must be a string")
	}
	if !strings.Contains(s, "/") {
		return Result{}, Invalid(name, "must be in CIDR form a.b.c.d/x", s)
	}
	p, err := cidr.ParseCIDR(s)
	if err != nil {
		return Result{}, Invalid(name, "invalid subnet", s)
	}
	return Result{Value: p}, nil
}

// Package params implements the declarative parameter-validation pipeline:
// per-field validators for required and optional fields run first and have
// their failures collected, then cross-field "after" checks run in order.
// Validators can derive additional fields (e.g. resolving a nic tag also
// yields the overlay vnet_id); derived fields are merged into the output bag.
package params

import (
	"context"
	"sort"

	"github.com/joshwilsdon-forks/sdc-napi/internal/observability"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// Bag is a parameter bag: raw request fields in, validated and derived
// fields out.
type Bag map[string]any

// Context is the immutable request context threaded through every
// validator: the store handle and logger resolved once per request.
type Context struct {
	Store storage.Store
	Log   observability.Logger
}

// Result is what one field validator produces. Value replaces the raw
// field value in the output bag; Extra holds derived fields merged
// alongside it.
type Result struct {
	Value any
	Extra Bag
}

// ValidateFn validates one raw field value. Returning an error (usually a
// *FieldError) marks the field invalid; errors from all fields in a phase
// are aggregated, not short-circuited.
type ValidateFn func(ctx context.Context, pctx *Context, name string, value any) (Result, error)

// AfterFn is a cross-field check run once all field validators pass. It
// sees the original input and the validated bag, and may add derived
// fields to the latter. The first failing after-check aborts validation.
type AfterFn func(ctx context.Context, pctx *Context, original, validated Bag) error

// Opts declares the validation contract for one operation.
type Opts struct {
	// Strict rejects unknown input fields instead of ignoring them.
	Strict   bool
	Required map[string]ValidateFn
	Optional map[string]ValidateFn
	After    []AfterFn
}

// Validate runs the two-phase pipeline and returns the validated bag, or a
// *ValidationError aggregating every field failure.
func Validate(ctx context.Context, pctx *Context, raw Bag, opts Opts) (Bag, error) {
	validated := make(Bag)
	var errs []*FieldError

	runField := func(name string, fn ValidateFn, required bool) {
		value, present := raw[name]
		if !present || value == nil {
			if required {
				errs = append(errs, Missing(name))
			}
			return
		}
		res, err := fn(ctx, pctx, name, value)
		if err != nil {
			errs = append(errs, AsFieldError(name, err))
			return
		}
		validated[name] = res.Value
		for k, v := range res.Extra {
			validated[k] = v
		}
	}

	// Field order is fixed so aggregated errors and derived-field merges
	// are deterministic.
	for _, name := range sortedKeys(opts.Required) {
		runField(name, opts.Required[name], true)
	}
	for _, name := range sortedKeys(opts.Optional) {
		runField(name, opts.Optional[name], false)
	}

	if opts.Strict {
		for _, name := range sortedBagKeys(raw) {
			if _, ok := opts.Required[name]; ok {
				continue
			}
			if _, ok := opts.Optional[name]; ok {
				continue
			}
			errs = append(errs, Unknown(name))
		}
	}

	if len(errs) > 0 {
		sortErrors(errs)
		return nil, &ValidationError{Errors: errs}
	}

	for _, after := range opts.After {
		if err := after(ctx, pctx, raw, validated); err != nil {
			if ve, ok := err.(*ValidationError); ok {
				return nil, ve
			}
			if fe, ok := err.(*FieldError); ok {
				return nil, &ValidationError{Errors: []*FieldError{fe}}
			}
			return nil, err
		}
	}

	return validated, nil
}

func sortedKeys(m map[string]ValidateFn) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedBagKeys(m Bag) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GetString returns a string field from a validated bag.
func (b Bag) GetString(name string) (string, bool) {
	v, ok := b[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetBool returns a bool field from a validated bag.
func (b Bag) GetBool(name string) bool {
	v, ok := b[name]
	if !ok {
		return false
	}
	bv, ok := v.(bool)
	return ok && bv
}

// Has reports whether a field is present in the bag.
func (b Bag) Has(name string) bool {
	_, ok := b[name]
	return ok
}

package params

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

func testCtx() *Context {
	return &Context{}
}

func TestValidateAggregatesErrors(t *testing.T) {
	opts := Opts{
		Required: map[string]ValidateFn{
			"owner_uuid": UUID,
			"name":       String,
		},
		Optional: map[string]ValidateFn{
			"vlan_id": IntRange(0, 4094),
		},
	}
	raw := Bag{
		"owner_uuid": "not-a-uuid",
		"vlan_id":    float64(9999),
	}
	_, err := Validate(context.Background(), testCtx(), raw, opts)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Errors) != 3 {
		t.Fatalf("expected 3 field errors, got %d: %v", len(verr.Errors), verr)
	}
	// Errors come back sorted by field.
	wantFields := []string{"name", "owner_uuid", "vlan_id"}
	wantCodes := []string{CodeMissing, CodeInvalid, CodeInvalid}
	for i, fe := range verr.Errors {
		if fe.Field != wantFields[i] {
			t.Errorf("error %d: field %q, want %q", i, fe.Field, wantFields[i])
		}
		if fe.Code != wantCodes[i] {
			t.Errorf("error %d: code %q, want %q", i, fe.Code, wantCodes[i])
		}
	}
}

func TestValidateStrictRejectsUnknown(t *testing.T) {
	opts := Opts{
		Strict: true,
		Optional: map[string]ValidateFn{
			"name": String,
		},
	}
	raw := Bag{"name": "net0", "bogus": 1}
	_, err := Validate(context.Background(), testCtx(), raw, opts)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Errors) != 1 || verr.Errors[0].Field != "bogus" || verr.Errors[0].Code != CodeUnknown {
		t.Errorf("expected unknown-parameter error for bogus, got %v", verr.Errors)
	}
}

func TestValidateAfterChecksRunAfterFields(t *testing.T) {
	afterRan := false
	opts := Opts{
		Required: map[string]ValidateFn{"owner_uuid": UUID},
		After: []AfterFn{
			func(ctx context.Context, pctx *Context, original, validated Bag) error {
				afterRan = true
				return nil
			},
		},
	}

	// Field errors suppress after-checks.
	_, err := Validate(context.Background(), testCtx(), Bag{"owner_uuid": "nope"}, opts)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if afterRan {
		t.Error("after-check ran despite field errors")
	}

	// Clean input runs them.
	_, err = Validate(context.Background(), testCtx(),
		Bag{"owner_uuid": "930896af-bf8c-48d4-885c-6573a94b1853"}, opts)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !afterRan {
		t.Error("after-check did not run")
	}
}

func TestValidateAfterCheckDerivedFields(t *testing.T) {
	opts := Opts{
		Optional: map[string]ValidateFn{"name": String},
		After: []AfterFn{
			func(ctx context.Context, pctx *Context, original, validated Bag) error {
				validated["derived"] = "yes"
				return nil
			},
		},
	}
	validated, err := Validate(context.Background(), testCtx(), Bag{"name": "x"}, opts)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v, _ := validated.GetString("derived"); v != "yes" {
		t.Errorf("derived field missing from validated bag")
	}
}

func TestUUIDValidator(t *testing.T) {
	res, err := UUID(context.Background(), testCtx(), "uuid", "930896af-bf8c-48d4-885c-6573a94b1853")
	if err != nil {
		t.Fatalf("UUID: %v", err)
	}
	if res.Value != "930896af-bf8c-48d4-885c-6573a94b1853" {
		t.Errorf("unexpected value %v", res.Value)
	}

	if _, err := UUID(context.Background(), testCtx(), "uuid", "xyz"); err == nil {
		t.Error("expected error for malformed UUID")
	}
	if _, err := UUID(context.Background(), testCtx(), "uuid", 42); err == nil {
		t.Error("expected error for non-string value")
	}
}

func TestUUIDArrayAggregatesBadValues(t *testing.T) {
	_, err := UUIDArray(context.Background(), testCtx(), "networks",
		[]any{"930896af-bf8c-48d4-885c-6573a94b1853", "bad1", "bad2"})
	if err == nil {
		t.Fatal("expected error")
	}
	fe := AsFieldError("networks", err)
	if len(fe.Invalid) != 2 {
		t.Errorf("expected both bad values listed, got %v", fe.Invalid)
	}
}

func TestIntRange(t *testing.T) {
	fn := IntRange(0, 4094)
	tests := []struct {
		value any
		ok    bool
	}{
		{float64(0), true},
		{float64(4094), true},
		{float64(4095), false},
		{float64(-1), false},
		{"12", true},
		{"nope", false},
	}
	for _, tt := range tests {
		_, err := fn(context.Background(), testCtx(), "vlan_id", tt.value)
		if tt.ok && err != nil {
			t.Errorf("IntRange(%v): unexpected error %v", tt.value, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("IntRange(%v): expected error", tt.value)
		}
	}
}

func TestIPValidator(t *testing.T) {
	res, err := IP(context.Background(), testCtx(), "ip", "10.0.0.5")
	if err != nil {
		t.Fatalf("IP: %v", err)
	}
	addr, ok := res.Value.(netip.Addr)
	if !ok || addr.String() != "10.0.0.5" {
		t.Errorf("unexpected value %v", res.Value)
	}

	if _, err := IP(context.Background(), testCtx(), "ip", "fd00::1"); err == nil {
		t.Error("expected error for IPv6")
	}
}

func TestEnum(t *testing.T) {
	fn := Enum("running", "stopped")
	if _, err := fn(context.Background(), testCtx(), "state", "running"); err != nil {
		t.Errorf("Enum(running): %v", err)
	}
	if _, err := fn(context.Background(), testCtx(), "state", "paused"); err == nil {
		t.Error("expected error for disallowed value")
	}
}

package ip

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"testing"

	"github.com/joshwilsdon-forks/sdc-napi/internal/observability"
	"github.com/joshwilsdon-forks/sdc-napi/internal/params"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

const (
	zoneUUID  = "a5c49373-4f15-41c6-b36c-c1a01a011400"
	ownerUUID = "73848121-3caa-4d9c-b556-7f2745e0501c"
)

func testRef(t *testing.T, pctx *params.Context, useStrings bool) Ref {
	t.Helper()
	version := 1
	if useStrings {
		version = 2
	}
	b := storage.Bucket{
		Name:    "napi_ips_test",
		Version: version,
		Indexes: map[string]storage.IndexType{
			"ip":              storage.IndexNumber,
			"ipaddr":          storage.IndexString,
			"reserved":        storage.IndexBool,
			"belongs_to_type": storage.IndexString,
			"belongs_to_uuid": storage.IndexString,
			"owner_uuid":      storage.IndexString,
		},
	}
	if err := pctx.Store.CreateBucket(context.Background(), b); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	return Ref{
		NetworkUUID: "1f32cfbb-7f05-4e85-9b7b-4efe8d06e3a9",
		Bucket:      b,
		UseStrings:  useStrings,
		Start:       netip.MustParseAddr("10.0.0.10"),
		End:         netip.MustParseAddr("10.0.0.250"),
	}
}

func testPctx(t *testing.T) *params.Context {
	t.Helper()
	return &params.Context{
		Store: storage.NewMemoryStore(),
		Log: observability.NewLogger(observability.Config{
			Level: "debug", Format: "json", Output: io.Discard,
		}),
	}
}

func TestGetAbsentIsSyntheticFree(t *testing.T) {
	pctx := testPctx(t)
	ref := testRef(t, pctx, true)

	rec, err := Get(context.Background(), pctx, ref, netip.MustParseAddr("10.0.0.20"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.Free() || !rec.Provisionable() {
		t.Errorf("absent address should be free and provisionable: %+v", rec)
	}
	if rec.Etag != "" {
		t.Errorf("synthetic record carries etag %q", rec.Etag)
	}
}

func TestProvisionable(t *testing.T) {
	tests := []struct {
		name string
		rec  IP
		want bool
	}{
		{"empty", IP{}, true},
		{"reserved only", IP{Reserved: true}, true},
		{"reserved with owner", IP{Reserved: true, OwnerUUID: ownerUUID}, true},
		{"admin placeholder", IP{Reserved: true, BelongsToType: BelongsToOther,
			BelongsToUUID: AdminOwnerUUID, OwnerUUID: AdminOwnerUUID}, true},
		{"zone assigned", IP{BelongsToType: BelongsToZone, BelongsToUUID: zoneUUID,
			OwnerUUID: ownerUUID}, false},
		{"other non-admin", IP{BelongsToType: BelongsToOther, BelongsToUUID: zoneUUID}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Provisionable(); got != tt.want {
				t.Errorf("Provisionable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpdateAssignAndFree(t *testing.T) {
	pctx := testPctx(t)
	ref := testRef(t, pctx, true)
	ctx := context.Background()
	addr := netip.MustParseAddr("10.0.0.20")

	rec, err := Update(ctx, pctx, ref, addr, params.Bag{
		"belongs_to_type": "zone",
		"belongs_to_uuid": zoneUUID,
		"owner_uuid":      ownerUUID,
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if rec.Free() || rec.Provisionable() {
		t.Error("assigned address still reads as available")
	}
	if rec.Etag == "" {
		t.Error("assign did not persist a row")
	}

	// Freeing keeps the row but clears every holder field.
	freed, err := Update(ctx, pctx, ref, addr, params.Bag{"free": true})
	if err != nil {
		t.Fatalf("free: %v", err)
	}
	if !freed.Free() {
		t.Errorf("freed address not free: %+v", freed)
	}

	// Freeing an already-free address is idempotent.
	again, err := Update(ctx, pctx, ref, addr, params.Bag{"free": true})
	if err != nil {
		t.Fatalf("second free: %v", err)
	}
	if !again.Free() {
		t.Errorf("double free changed state: %+v", again)
	}

	obj, err := pctx.Store.GetObject(ctx, ref.Bucket.Name, freed.Key())
	if err != nil {
		t.Fatalf("row deleted by free: %v", err)
	}
	if obj.Etag == rec.Etag {
		t.Error("free did not advance the version token")
	}
}

func TestUpdateUnassignKeepsReservation(t *testing.T) {
	pctx := testPctx(t)
	ref := testRef(t, pctx, true)
	ctx := context.Background()
	addr := netip.MustParseAddr("10.0.0.30")

	if _, err := Update(ctx, pctx, ref, addr, params.Bag{
		"reserved":        true,
		"belongs_to_type": "zone",
		"belongs_to_uuid": zoneUUID,
		"owner_uuid":      ownerUUID,
	}); err != nil {
		t.Fatalf("assign reserved: %v", err)
	}

	rec, err := Update(ctx, pctx, ref, addr, params.Bag{"unassign": true})
	if err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if rec.BelongsToType != "" || rec.BelongsToUUID != "" {
		t.Error("unassign left the holder in place")
	}
	if !rec.Reserved {
		t.Error("unassign dropped the reservation")
	}
	if rec.OwnerUUID != ownerUUID {
		t.Errorf("unassign dropped the owner of a reserved address: %q", rec.OwnerUUID)
	}

	// Without a reservation the owner goes too.
	addr2 := netip.MustParseAddr("10.0.0.31")
	if _, err := Update(ctx, pctx, ref, addr2, params.Bag{
		"belongs_to_type": "zone",
		"belongs_to_uuid": zoneUUID,
		"owner_uuid":      ownerUUID,
	}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	rec, err = Update(ctx, pctx, ref, addr2, params.Bag{"unassign": true})
	if err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if rec.OwnerUUID != "" {
		t.Errorf("owner survived unassign of an unreserved address: %q", rec.OwnerUUID)
	}
}

func TestUpdateFlagConflicts(t *testing.T) {
	pctx := testPctx(t)
	ref := testRef(t, pctx, true)
	ctx := context.Background()
	addr := netip.MustParseAddr("10.0.0.40")

	tests := []struct {
		name string
		bag  params.Bag
	}{
		{"free and unassign", params.Bag{"free": true, "unassign": true}},
		{"belongs type without uuid", params.Bag{"belongs_to_type": "zone", "owner_uuid": ownerUUID}},
		{"belongs uuid without type", params.Bag{"belongs_to_uuid": zoneUUID, "owner_uuid": ownerUUID}},
		{"belongs without owner", params.Bag{"belongs_to_type": "zone", "belongs_to_uuid": zoneUUID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Update(ctx, pctx, ref, addr, tt.bag); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDeleteClearsButKeepsRow(t *testing.T) {
	pctx := testPctx(t)
	ref := testRef(t, pctx, true)
	ctx := context.Background()
	addr := netip.MustParseAddr("10.0.0.50")

	if _, err := Update(ctx, pctx, ref, addr, params.Bag{
		"belongs_to_type": "zone",
		"belongs_to_uuid": zoneUUID,
		"owner_uuid":      ownerUUID,
	}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	rec, err := Delete(ctx, pctx, ref, addr)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !rec.Free() {
		t.Errorf("delete did not clear: %+v", rec)
	}
	if _, err := pctx.Store.GetObject(ctx, ref.Bucket.Name, rec.Key()); err != nil {
		t.Errorf("delete removed the row: %v", err)
	}
}

func TestEncodingGuard(t *testing.T) {
	pctx := testPctx(t)
	ctx := context.Background()

	// String-encoded bucket with a stray numeric row.
	ref := testRef(t, pctx, true)
	if _, err := pctx.Store.PutObject(ctx, ref.Bucket.Name, "167772180",
		storage.Row{"ip": uint32(167772180), "reserved": false}, storage.PutOptions{}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	_, err := List(ctx, pctx, ref)
	if !errors.Is(err, storage.ErrEtagConflict) {
		t.Fatalf("expected encoding conflict, got %v", err)
	}
}

func TestKeyEncoding(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.20")

	numeric := &IP{Ref: Ref{UseStrings: false}, Addr: addr}
	if got := numeric.Key(); got != "167772180" {
		t.Errorf("numeric key = %q, want 167772180", got)
	}

	str := &IP{Ref: Ref{UseStrings: true}, Addr: addr}
	if got := str.Key(); got != "10.0.0.20" {
		t.Errorf("string key = %q, want 10.0.0.20", got)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	for _, useStrings := range []bool{false, true} {
		pctx := testPctx(t)
		ref := testRef(t, pctx, useStrings)
		ctx := context.Background()
		addr := netip.MustParseAddr("10.0.0.77")

		want := &IP{
			Ref:           ref,
			Addr:          addr,
			Reserved:      true,
			BelongsToType: BelongsToZone,
			BelongsToUUID: zoneUUID,
			OwnerUUID:     ownerUUID,
		}
		if err := storage.Commit(ctx, pctx.Store, []storage.Mutation{want.Mutation()}); err != nil {
			t.Fatalf("Commit: %v", err)
		}

		got, err := Get(ctx, pctx, ref, addr)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Addr != want.Addr || got.Reserved != want.Reserved ||
			got.BelongsToType != want.BelongsToType ||
			got.BelongsToUUID != want.BelongsToUUID ||
			got.OwnerUUID != want.OwnerUUID {
			t.Errorf("useStrings=%v: round trip mismatch: %+v", useStrings, got)
		}
	}
}

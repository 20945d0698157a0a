package network

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"testing"

	"github.com/joshwilsdon-forks/sdc-napi/internal/ip"
	"github.com/joshwilsdon-forks/sdc-napi/internal/observability"
	"github.com/joshwilsdon-forks/sdc-napi/internal/params"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

func testPctx(t *testing.T) *params.Context {
	t.Helper()
	return &params.Context{
		Store: storage.NewMemoryStore(),
		Log: observability.NewLogger(observability.Config{
			Level: "debug", Format: "json", Output: io.Discard,
		}),
	}
}

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a
}

func createTestNetwork(t *testing.T, pctx *params.Context, overrides params.Bag) *Network {
	t.Helper()
	bag := params.Bag{
		"name":               "test-net",
		"subnet":             "10.0.0.0/24",
		"vlan_id":            float64(0),
		"nic_tag":            "external",
		"provision_start_ip": "10.0.0.10",
		"provision_end_ip":   "10.0.0.250",
	}
	for k, v := range overrides {
		bag[k] = v
	}
	n, err := Create(context.Background(), pctx, bag)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return n
}

func TestCreateNetwork(t *testing.T) {
	pctx := testPctx(t)
	n := createTestNetwork(t, pctx, params.Bag{
		"gateway":   "10.0.0.1",
		"resolvers": []any{"10.0.0.2", "8.8.8.8"},
	})

	if !n.IPUseStrings {
		t.Error("new networks should use the string address encoding")
	}
	if n.MTU != DefaultMTU {
		t.Errorf("MTU = %d, want default %d", n.MTU, DefaultMTU)
	}
	if n.Etag == "" {
		t.Error("created network carries no etag")
	}

	got, err := Get(context.Background(), pctx, n.UUID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Subnet.String() != "10.0.0.0/24" || got.Gateway.String() != "10.0.0.1" {
		t.Errorf("round trip mismatch: subnet %s gateway %s", got.Subnet, got.Gateway)
	}
	if len(got.Resolvers) != 2 {
		t.Errorf("expected 2 resolvers, got %d", len(got.Resolvers))
	}
}

func TestCreateReservesGatewayAndResolvers(t *testing.T) {
	pctx := testPctx(t)
	n := createTestNetwork(t, pctx, params.Bag{
		"gateway": "10.0.0.1",
		// 8.8.8.8 is outside the subnet and gets no row.
		"resolvers": []any{"10.0.0.2", "8.8.8.8"},
	})

	for _, addrStr := range []string{"10.0.0.1", "10.0.0.2"} {
		rec, err := ip.Get(context.Background(), pctx, n.IPRef(), mustAddr(t, addrStr))
		if err != nil {
			t.Fatalf("ip.Get(%s): %v", addrStr, err)
		}
		if !rec.Reserved {
			t.Errorf("%s: placeholder not reserved", addrStr)
		}
		if rec.BelongsToType != ip.BelongsToOther || rec.BelongsToUUID != AdminOwnerUUID {
			t.Errorf("%s: placeholder holder %s/%s", addrStr, rec.BelongsToType, rec.BelongsToUUID)
		}
		if !rec.Provisionable() {
			t.Errorf("%s: administrative placeholder should remain provisionable", addrStr)
		}
	}

	recs, err := ip.List(context.Background(), pctx, n.IPRef())
	if err != nil {
		t.Fatalf("ip.List: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("expected exactly 2 placeholder rows, got %d", len(recs))
	}
}

func TestCreateValidationAggregates(t *testing.T) {
	pctx := testPctx(t)
	_, err := Create(context.Background(), pctx, params.Bag{
		"name":               "bad-net",
		"subnet":             "10.0.0.0/24",
		"vlan_id":            float64(0),
		"nic_tag":            "external",
		"provision_start_ip": "10.1.0.10",
		"provision_end_ip":   "10.1.0.250",
		"gateway":            "192.168.0.1",
	})
	var verr *params.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Errors) != 3 {
		t.Errorf("expected 3 aggregated errors (start, end, gateway), got %d: %v",
			len(verr.Errors), verr)
	}
}

func TestCreateRangeOrdering(t *testing.T) {
	pctx := testPctx(t)
	_, err := Create(context.Background(), pctx, params.Bag{
		"name":               "bad-range",
		"subnet":             "10.0.0.0/24",
		"vlan_id":            float64(0),
		"nic_tag":            "external",
		"provision_start_ip": "10.0.0.250",
		"provision_end_ip":   "10.0.0.10",
	})
	if err == nil {
		t.Fatal("expected error for inverted provision range")
	}
}

func TestCreateFabricRequiresVnetID(t *testing.T) {
	pctx := testPctx(t)
	_, err := Create(context.Background(), pctx, params.Bag{
		"name":               "fab",
		"subnet":             "10.0.0.0/24",
		"vlan_id":            float64(2),
		"nic_tag":            "sdc_overlay",
		"provision_start_ip": "10.0.0.10",
		"provision_end_ip":   "10.0.0.250",
		"fabric":             true,
	})
	var verr *params.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Errors) != 1 || verr.Errors[0].Field != "vnet_id" || verr.Errors[0].Code != params.CodeMissing {
		t.Errorf("expected missing vnet_id, got %v", verr.Errors)
	}

	n, err := Create(context.Background(), pctx, params.Bag{
		"name":               "fab",
		"subnet":             "10.0.0.0/24",
		"vlan_id":            float64(2),
		"nic_tag":            "sdc_overlay",
		"provision_start_ip": "10.0.0.10",
		"provision_end_ip":   "10.0.0.250",
		"fabric":             true,
		"vnet_id":            float64(12345),
	})
	if err != nil {
		t.Fatalf("Create fabric: %v", err)
	}
	if !n.Fabric || n.VnetID != 12345 {
		t.Errorf("fabric fields not set: fabric=%v vnet_id=%d", n.Fabric, n.VnetID)
	}
}

func TestUpdateImmutableFields(t *testing.T) {
	pctx := testPctx(t)
	n := createTestNetwork(t, pctx, nil)

	for _, field := range []string{"vlan_id", "nic_tag"} {
		_, err := Update(context.Background(), pctx, n.UUID, params.Bag{field: "anything"})
		var verr *params.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected *ValidationError, got %v", field, err)
		}
		if verr.Errors[0].Field != field {
			t.Errorf("%s: error names field %q", field, verr.Errors[0].Field)
		}
	}
}

func TestUpdateMutableFields(t *testing.T) {
	pctx := testPctx(t)
	n := createTestNetwork(t, pctx, nil)

	got, err := Update(context.Background(), pctx, n.UUID, params.Bag{
		"name":    "renamed",
		"mtu":     float64(9000),
		"gateway": "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Name != "renamed" || got.MTU != 9000 || got.Gateway.String() != "10.0.0.1" {
		t.Errorf("update not applied: %+v", got)
	}
	if got.Etag == n.Etag {
		t.Error("etag did not advance on update")
	}
}

func TestDeleteRefusesWhileInUse(t *testing.T) {
	pctx := testPctx(t)
	n := createTestNetwork(t, pctx, nil)

	// Assign an address to a zone.
	_, err := ip.Update(context.Background(), pctx, n.IPRef(), mustAddr(t, "10.0.0.20"), params.Bag{
		"belongs_to_type": "zone",
		"belongs_to_uuid": "a5c49373-4f15-41c6-b36c-c1a01a011400",
		"owner_uuid":      "73848121-3caa-4d9c-b556-7f2745e0501c",
	})
	if err != nil {
		t.Fatalf("ip.Update: %v", err)
	}

	err = Delete(context.Background(), pctx, "napi_nics", n.UUID)
	if !errors.Is(err, ErrNetworkInUse) {
		t.Fatalf("expected ErrNetworkInUse, got %v", err)
	}

	// Free it; deletion succeeds.
	if _, err := ip.Update(context.Background(), pctx, n.IPRef(), mustAddr(t, "10.0.0.20"),
		params.Bag{"free": true}); err != nil {
		t.Fatalf("ip.Update free: %v", err)
	}
	if err := Delete(context.Background(), pctx, "napi_nics", n.UUID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := Get(context.Background(), pctx, n.UUID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("network still present after delete: %v", err)
	}
}

func TestDeleteAllowsPlaceholders(t *testing.T) {
	pctx := testPctx(t)
	n := createTestNetwork(t, pctx, params.Bag{"gateway": "10.0.0.1"})
	if err := Delete(context.Background(), pctx, "napi_nics", n.UUID); err != nil {
		t.Fatalf("Delete with placeholder rows: %v", err)
	}
}

func TestIsOwner(t *testing.T) {
	open := &Network{}
	if !open.IsOwner("73848121-3caa-4d9c-b556-7f2745e0501c") {
		t.Error("network without owners should accept anyone")
	}

	restricted := &Network{OwnerUUIDs: []string{"73848121-3caa-4d9c-b556-7f2745e0501c"}}
	if !restricted.IsOwner("73848121-3caa-4d9c-b556-7f2745e0501c") {
		t.Error("listed owner rejected")
	}
	if restricted.IsOwner("a5c49373-4f15-41c6-b36c-c1a01a011400") {
		t.Error("unlisted owner accepted")
	}
	if !restricted.IsOwner(AdminOwnerUUID) {
		t.Error("administrative owner rejected")
	}
}

func TestFindContaining(t *testing.T) {
	pctx := testPctx(t)
	createTestNetwork(t, pctx, params.Bag{"name": "a", "subnet": "10.0.0.0/24",
		"provision_start_ip": "10.0.0.10", "provision_end_ip": "10.0.0.250"})
	createTestNetwork(t, pctx, params.Bag{"name": "b", "subnet": "10.1.0.0/24",
		"provision_start_ip": "10.1.0.10", "provision_end_ip": "10.1.0.250"})

	nets, err := FindContaining(context.Background(), pctx, "external", 0, mustAddr(t, "10.1.0.33"))
	if err != nil {
		t.Fatalf("FindContaining: %v", err)
	}
	if len(nets) != 1 || nets[0].Name != "b" {
		t.Errorf("expected network b, got %d results", len(nets))
	}

	nets, err = FindContaining(context.Background(), pctx, "external", 5, mustAddr(t, "10.1.0.33"))
	if err != nil {
		t.Fatalf("FindContaining: %v", err)
	}
	if len(nets) != 0 {
		t.Errorf("VLAN mismatch should not match, got %d results", len(nets))
	}
}

func TestIPBucketName(t *testing.T) {
	got := IPBucketName("1f32cfbb-7f05-4e85-9b7b-4efe8d06e3a9")
	want := "napi_ips_1f32cfbb_7f05_4e85_9b7b_4efe8d06e3a9"
	if got != want {
		t.Errorf("IPBucketName = %q, want %q", got, want)
	}
}

package registry

import "testing"

func TestRegisterPreservesOrder(t *testing.T) {
	r := New()
	r.Register(Descriptor{Name: "clients", TableName: "clients"})
	r.Register(Descriptor{Name: "categories", TableName: "categories"})
	r.Register(Descriptor{Name: "catalogItems", TableName: "catalog_items"})

	got := r.Names()
	want := []string{"clients", "categories", "catalogItems"}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestReRegisterKeepsPosition(t *testing.T) {
	r := New()
	r.Register(Descriptor{Name: "clients", BatchSize: 50})
	r.Register(Descriptor{Name: "categories", BatchSize: 50})
	r.Register(Descriptor{Name: "clients", BatchSize: 100})

	names := r.Names()
	if names[0] != "clients" || names[1] != "categories" {
		t.Fatalf("re-registering changed order: %v", names)
	}

	d, _ := r.Get("clients")
	if d.BatchSize != 100 {
		t.Errorf("re-register should replace descriptor fields, got BatchSize=%d", d.BatchSize)
	}
}

func TestMustGetUnregisteredFails(t *testing.T) {
	r := New()
	_, err := r.MustGet("ghost")
	if err == nil {
		t.Fatal("expected error for unregistered entity")
	}
	var notRegistered *ErrNotRegistered
	if _, ok := err.(*ErrNotRegistered); !ok {
		t.Errorf("expected *ErrNotRegistered, got %T", err)
	}
	_ = notRegistered
}

func TestPullOnlyDescriptor(t *testing.T) {
	d := Descriptor{Name: "categories", APIEndpoint: "/api/categories"}
	if !d.PullOnly() {
		t.Error("descriptor with empty APIMutationEndpoint should be PullOnly")
	}

	d.APIMutationEndpoint = "/api/categories"
	if d.PullOnly() {
		t.Error("descriptor with APIMutationEndpoint set should not be PullOnly")
	}
}

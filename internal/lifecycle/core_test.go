package lifecycle

import (
	"testing"

	"github.com/fieldsync/sync-core/internal/registry"
)

func TestNewRequiresConfiguration(t *testing.T) {
	_, err := New(Config{StorePath: ":memory:"})
	if err == nil {
		t.Fatal("expected error when baseUrl/authToken/technicianId are missing")
	}
}

func TestNewAndRegisterDescriptor(t *testing.T) {
	core, err := New(Config{
		StorePath:    ":memory:",
		BaseURL:      "http://example.invalid",
		AuthToken:    "tok",
		TechnicianID: "tech-1",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer core.Close()

	err = core.RegisterDescriptor(registry.Descriptor{
		Name:      "clients",
		TableName: "clients",
		Columns:   []string{"id", "name", "updatedAt"},
	})
	if err != nil {
		t.Fatalf("RegisterDescriptor: %v", err)
	}

	if core.Registry.Len() != 1 {
		t.Errorf("expected 1 registered descriptor, got %d", core.Registry.Len())
	}

	var count int
	if err := core.Store.Conn().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='clients'`).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Error("expected clients table to be created")
	}
}

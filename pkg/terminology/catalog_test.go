package terminology

import (
	"errors"
	"os"
	"testing"
	"time"
)

func TestResolveCodeAndAlias(t *testing.T) {
	cat := DefaultCatalog()

	code, err := cat.Resolve("718-7")
	if err != nil || code != "718-7" {
		t.Fatalf("Resolve exact code: %s, %v", code, err)
	}

	code, err = cat.Resolve("hemoglobin")
	if err != nil || code != "718-7" {
		t.Fatalf("Resolve alias: %s, %v", code, err)
	}

	code, err = cat.Resolve("  WBC  ")
	if err != nil || code != "6690-2" {
		t.Fatalf("Resolve trimmed alias: %s, %v", code, err)
	}
}

func TestResolveUnknown(t *testing.T) {
	cat := DefaultCatalog()
	for _, bad := range []string{"", "9999-9", "Temperature"} {
		if _, err := cat.Resolve(bad); !errors.Is(err, ErrUnknownIdentifier) {
			t.Fatalf("Resolve(%q): want ErrUnknownIdentifier, got %v", bad, err)
		}
	}
}

func TestWindowFallback(t *testing.T) {
	cat := DefaultCatalog()
	before, after := cat.Window("718-7")
	if before != 7*24*time.Hour || after != 7*24*time.Hour {
		t.Fatalf("hemoglobin window = %v/%v", before, after)
	}
	before, after = cat.Window("unknown")
	if before != 4*time.Hour || after != 8*time.Hour {
		t.Fatalf("fallback window = %v/%v", before, after)
	}
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	_, err := NewCatalog([]Concept{
		{Code: "718-7", Component: "Hemoglobin"},
		{Code: "718-7", Component: "Hgb"},
	})
	if err == nil {
		t.Fatal("expected error for duplicate code")
	}

	_, err = NewCatalog([]Concept{
		{Code: "718-7", Component: "Hemoglobin"},
		{Code: "1234-5", Component: "hemoglobin"},
	})
	if err == nil {
		t.Fatal("expected error for ambiguous component")
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/catalog.yaml"
	content := []byte(`concepts:
  - code: "718-7"
    component: Hemoglobin
    display: Hemoglobin in blood
    unit: g/dL
    before_good: 168h
    after_good: 168h
  - code: "8310-5"
    component: Fever
    unit: Cel
    before_good: 12h
    after_good: 12h
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if code, err := cat.Resolve("Fever"); err != nil || code != "8310-5" {
		t.Fatalf("Resolve: %s, %v", code, err)
	}
	before, _ := cat.Window("718-7")
	if before != 168*time.Hour {
		t.Fatalf("window = %v", before)
	}
}

func TestLoadEmptyPathFallsBackToDefault(t *testing.T) {
	cat, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cat.Resolve("Therapy"); err != nil {
		t.Fatalf("default catalog missing therapy concept: %v", err)
	}
}

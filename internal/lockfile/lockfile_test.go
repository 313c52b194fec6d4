package lockfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blext-tools/blext/internal/lockfile"
)

const fixtureTOML = `
[[package]]
name = "exampleext"
version = "1.0.0"

[package.metadata]
requires-dist = [{ name = "examplelib" }]

[[package]]
name = "examplelib"
version = "1.0.0"

[package.source]
registry = "https://pypi.org/simple"

[[package.wheels]]
url = "https://files.pythonhosted.org/packages/examplelib-1.0.0-py3-none-any.whl"
hash = "sha256:abc"
size = 1234
`

func TestParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blext.lock")

	if err := os.WriteFile(path, []byte(fixtureTOML), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	lf, err := lockfile.Parse(path)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if len(lf.Package) != 2 {
		t.Fatalf("expected two package entries, got %d", len(lf.Package))
	}

	root, err := lf.RootPackage("exampleext")
	if err != nil {
		t.Fatalf("RootPackage() error: %v", err)
	}

	if len(root.Metadata.RequiresDist) != 1 || root.Metadata.RequiresDist[0].Name != "examplelib" {
		t.Errorf("unexpected requires-dist: %+v", root.Metadata.RequiresDist)
	}

	dep, err := lf.RootPackage("examplelib")
	if err != nil {
		t.Fatalf("RootPackage(examplelib) error: %v", err)
	}

	if dep.Source.Registry != "https://pypi.org/simple" {
		t.Errorf("Source.Registry = %q", dep.Source.Registry)
	}

	if len(dep.Wheels) != 1 || dep.Wheels[0].Size != 1234 {
		t.Errorf("unexpected wheels: %+v", dep.Wheels)
	}
}

func TestParseMissingFile(t *testing.T) {
	if _, err := lockfile.Parse("/nonexistent/blext.lock"); err == nil {
		t.Error("expected an error for a missing lockfile")
	}
}

func TestRootPackageMissing(t *testing.T) {
	lf := &lockfile.Lockfile{Package: []lockfile.Package{{Name: "other"}}}

	_, err := lf.RootPackage("exampleext")
	if err == nil {
		t.Fatal("expected an error for an unknown root package")
	}

	var missing *lockfile.ErrMissingRootPackage
	if !errorsAs(err, &missing) {
		t.Fatalf("expected *ErrMissingRootPackage, got %T", err)
	}

	if missing.Name != "exampleext" {
		t.Errorf("Name = %q, want exampleext", missing.Name)
	}
}

func errorsAs(err error, target **lockfile.ErrMissingRootPackage) bool {
	e, ok := err.(*lockfile.ErrMissingRootPackage)
	if !ok {
		return false
	}

	*target = e

	return true
}

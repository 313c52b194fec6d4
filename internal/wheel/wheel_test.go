package wheel_test

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blext-tools/blext/internal/blplatform"
	"github.com/blext-tools/blext/internal/wheel"
)

func TestParseFilenameBasic(t *testing.T) {
	name, version, build, tags, err := wheel.ParseFilename("numpy-1.26.4-cp311-cp311-manylinux_2_28_x86_64.whl")
	require.NoError(t, err)

	assert.Equal(t, "numpy", name)
	assert.Equal(t, "1.26.4", version)
	assert.Empty(t, build)
	assert.Equal(t, []string{"cp311"}, tags.Python)
	assert.Equal(t, []string{"cp311"}, tags.ABI)
	assert.Equal(t, []string{"manylinux_2_28_x86_64"}, tags.Platform)
}

func TestParseFilenameWithBuildTag(t *testing.T) {
	name, version, build, _, err := wheel.ParseFilename("mylib-1.0.0-1-py3-none-any.whl")
	require.NoError(t, err)

	assert.Equal(t, "mylib", name)
	assert.Equal(t, "1.0.0", version)
	assert.Equal(t, "1", build)
}

func TestParseFilenameRejectsMissingSuffix(t *testing.T) {
	if _, _, _, _, err := wheel.ParseFilename("mylib-1.0.0-py3-none-any.tar.gz"); err == nil {
		t.Error("expected an error for a non-.whl filename")
	}
}

func TestParseFilenameRejectsTooFewSegments(t *testing.T) {
	if _, _, _, _, err := wheel.ParseFilename("mylib-1.0.0.whl"); err == nil {
		t.Error("expected an error for too few dash-separated segments")
	}
}

func TestParseFilenameNormalizesLegacyManylinux(t *testing.T) {
	_, _, _, tags, err := wheel.ParseFilename("mylib-1.0.0-cp311-cp311-manylinux1_x86_64.whl")
	if err != nil {
		t.Fatalf("ParseFilename() error: %v", err)
	}

	if len(tags.Platform) != 1 || tags.Platform[0] != "manylinux_2_5_x86_64" {
		t.Errorf("Platform tags = %v, want [manylinux_2_5_x86_64]", tags.Platform)
	}
}

func TestParseFilenameDropsRedundantLegacyAlias(t *testing.T) {
	_, _, _, tags, err := wheel.ParseFilename("mylib-1.0.0-cp311-cp311-manylinux1_x86_64.manylinux_2_5_x86_64.whl")
	if err != nil {
		t.Fatalf("ParseFilename() error: %v", err)
	}

	if len(tags.Platform) != 1 {
		t.Errorf("Platform tags = %v, want the legacy duplicate dropped", tags.Platform)
	}
}

func newWheel(t *testing.T, url, hash string, size int64) wheel.Wheel {
	t.Helper()

	w, err := wheel.New(url, "https://pypi.org/simple", hash, size)
	if err != nil {
		t.Fatalf("wheel.New() error: %v", err)
	}

	return w
}

func TestNewRejectsNonWheelURL(t *testing.T) {
	if _, err := wheel.New("https://example.com/mylib-1.0.0.tar.gz", "https://pypi.org/simple", "sha256:ab", 1); err == nil {
		t.Error("expected an error for a non-.whl URL")
	}
}

func TestWorksWithPythonAndABITags(t *testing.T) {
	w := newWheel(t, "https://example.com/mylib-1.0.0-cp311-cp311-manylinux_2_28_x86_64.whl", "sha256:ab", 1)

	if !w.WorksWithPythonTags([]string{"cp311", "py3"}) {
		t.Error("expected cp311 to intersect")
	}

	if w.WorksWithPythonTags([]string{"cp39"}) {
		t.Error("expected no intersection with cp39")
	}

	if !w.WorksWithABITags([]string{"cp311", "abi3"}) {
		t.Error("expected cp311 ABI to intersect")
	}
}

func TestWorksWithPlatformAnyTagMatchesEverything(t *testing.T) {
	w := newWheel(t, "https://example.com/mylib-1.0.0-py3-none-any.whl", "sha256:ab", 1)

	for _, p := range blplatform.All() {
		if !w.WorksWithPlatform(p, nil, nil) {
			t.Errorf("expected a py3-none-any wheel to work on %s", p)
		}
	}
}

func TestWorksWithPlatformLinuxGlibcFloor(t *testing.T) {
	w := newWheel(t, "https://example.com/mylib-1.0.0-cp311-cp311-manylinux_2_28_x86_64.whl", "sha256:ab", 1)

	if !w.WorksWithPlatform(blplatform.LinuxX64, &[2]int{2, 31}, nil) {
		t.Error("expected manylinux_2_28 to satisfy a 2.31 floor")
	}

	if w.WorksWithPlatform(blplatform.LinuxX64, &[2]int{2, 20}, nil) {
		t.Error("expected manylinux_2_28 to fail a 2.20 floor (tag newer than floor)")
	}

	if w.WorksWithPlatform(blplatform.LinuxArm64, nil, nil) {
		t.Error("expected an x86_64-only wheel to not work on arm64")
	}
}

func TestWorksWithPlatformMacosFloor(t *testing.T) {
	w := newWheel(t, "https://example.com/mylib-1.0.0-cp311-cp311-macosx_11_0_arm64.whl", "sha256:ab", 1)

	if !w.WorksWithPlatform(blplatform.MacosArm64, nil, &[2]int{12, 0}) {
		t.Error("expected macosx_11_0 to satisfy a 12.0 floor")
	}

	if w.WorksWithPlatform(blplatform.MacosArm64, nil, &[2]int{10, 0}) {
		t.Error("expected macosx_11_0 to fail a 10.0 floor")
	}
}

func TestWorksWithPlatformWindowsIgnoresFloors(t *testing.T) {
	w := newWheel(t, "https://example.com/mylib-1.0.0-cp311-cp311-win_amd64.whl", "sha256:ab", 1)

	if !w.WorksWithPlatform(blplatform.WindowsX64, &[2]int{99, 99}, &[2]int{99, 99}) {
		t.Error("expected Windows wheels to ignore OS-version floors entirely")
	}
}

func TestSelectPreferredPrefersWidestGlibc(t *testing.T) {
	older := newWheel(t, "https://example.com/mylib-1.0.0-cp311-cp311-manylinux_2_17_x86_64.whl", "sha256:ab", 1)
	newer := newWheel(t, "https://example.com/mylib-1.0.0-cp311-cp311-manylinux_2_28_x86_64.whl", "sha256:ab", 1)

	got, ok := wheel.SelectPreferred([]wheel.Wheel{older, newer}, blplatform.LinuxX64)
	if !ok {
		t.Fatal("expected a preferred wheel to be found")
	}

	if got.Filename() != newer.Filename() {
		t.Errorf("SelectPreferred() = %q, want the widest (2_28) tag", got.Filename())
	}
}

func TestSelectPreferredWindowsRanksAnyFirst(t *testing.T) {
	amd64 := newWheel(t, "https://example.com/mylib-1.0.0-py3-none-win_amd64.whl", "sha256:ab", 1)
	universal := newWheel(t, "https://example.com/mylib-1.0.0-py3-none-any.whl", "sha256:ab", 1)

	got, ok := wheel.SelectPreferred([]wheel.Wheel{amd64, universal}, blplatform.WindowsX64)
	if !ok {
		t.Fatal("expected a preferred wheel to be found")
	}

	if got.Filename() != universal.Filename() {
		t.Errorf("SelectPreferred() = %q, want the any-tagged wheel preferred on Windows", got.Filename())
	}
}

func TestSelectPreferredEmpty(t *testing.T) {
	if _, ok := wheel.SelectPreferred(nil, blplatform.LinuxX64); ok {
		t.Error("expected SelectPreferred(nil, ...) to report not-found")
	}
}

func TestIsDownloadValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mylib-1.0.0-py3-none-any.whl")

	content := []byte("wheel contents")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	sum := sha256.Sum256(content)
	hash := "sha256:" + hex.EncodeToString(sum[:])

	w := newWheel(t, "https://example.com/mylib-1.0.0-py3-none-any.whl", hash, int64(len(content)))

	valid, err := w.IsDownloadValid(path)
	if err != nil {
		t.Fatalf("IsDownloadValid() error: %v", err)
	}

	if !valid {
		t.Error("expected matching content to validate")
	}

	wrong := newWheel(t, "https://example.com/mylib-1.0.0-py3-none-any.whl", "sha256:"+hex.EncodeToString(make([]byte, 32)), int64(len(content)))

	valid, err = wrong.IsDownloadValid(path)
	if err != nil {
		t.Fatalf("IsDownloadValid() error: %v", err)
	}

	if valid {
		t.Error("expected a hash mismatch to be reported invalid")
	}
}

func TestIsDownloadValidMissingFile(t *testing.T) {
	w := newWheel(t, "https://example.com/mylib-1.0.0-py3-none-any.whl", "sha256:ab", 1)

	if _, err := w.IsDownloadValid("/nonexistent/path/mylib-1.0.0-py3-none-any.whl"); err == nil {
		t.Error("expected an error for a missing file")
	}
}

package blplatform_test

import (
	"testing"

	"github.com/blext-tools/blext/internal/blplatform"
)

func TestValid(t *testing.T) {
	for _, p := range blplatform.All() {
		if !p.Valid() {
			t.Errorf("%s: expected Valid() to be true", p)
		}
	}

	if blplatform.Platform("solaris-sparc").Valid() {
		t.Error("expected an unknown platform to be invalid")
	}
}

func TestIsWindowsIsLinuxIsMacos(t *testing.T) {
	cases := []struct {
		p                                    blplatform.Platform
		windows, linux, macos bool
	}{
		{blplatform.LinuxX64, false, true, false},
		{blplatform.LinuxArm64, false, true, false},
		{blplatform.MacosX64, false, false, true},
		{blplatform.MacosArm64, false, false, true},
		{blplatform.WindowsX64, true, false, false},
		{blplatform.WindowsArm64, true, false, false},
	}

	for _, c := range cases {
		if got := c.p.IsWindows(); got != c.windows {
			t.Errorf("%s.IsWindows() = %v, want %v", c.p, got, c.windows)
		}

		if got := c.p.IsLinux(); got != c.linux {
			t.Errorf("%s.IsLinux() = %v, want %v", c.p, got, c.linux)
		}

		if got := c.p.IsMacos(); got != c.macos {
			t.Errorf("%s.IsMacos() = %v, want %v", c.p, got, c.macos)
		}
	}
}

func TestLookupPanicsOnUnknownPlatform(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected PypiArches to panic for an unknown platform")
		}
	}()

	blplatform.Platform("atari-st").PypiArches()
}

func TestPerPlatformMetadata(t *testing.T) {
	if got := blplatform.LinuxX64.WheelPlatformTagPrefix(); got != "manylinux" {
		t.Errorf("LinuxX64.WheelPlatformTagPrefix() = %q", got)
	}

	if got := blplatform.WindowsX64.PymarkerOSName(); got != "nt" {
		t.Errorf("WindowsX64.PymarkerOSName() = %q", got)
	}

	if got := blplatform.MacosArm64.PymarkerSysPlatform(); got != "darwin" {
		t.Errorf("MacosArm64.PymarkerSysPlatform() = %q", got)
	}

	machines := blplatform.WindowsArm64.PymarkerPlatformMachines()
	if len(machines) != 1 || machines[0] != "arm64" {
		t.Errorf("WindowsArm64.PymarkerPlatformMachines() = %v", machines)
	}
}

func TestPypiArchesReturnsACopy(t *testing.T) {
	arches := blplatform.LinuxX64.PypiArches()
	arches[0] = "mutated"

	if blplatform.LinuxX64.PypiArches()[0] == "mutated" {
		t.Error("PypiArches() must return a defensive copy")
	}
}

// Package blplatform enumerates the operating-system/architecture
// combinations an extension archive can target and their wheel-tag and
// marker-environment metadata.
package blplatform

import "fmt"

// Platform is one member of the closed six-value platform enumeration.
type Platform string

const (
	LinuxX64     Platform = "linux-x64"
	LinuxArm64   Platform = "linux-arm64"
	MacosX64     Platform = "macos-x64"
	MacosArm64   Platform = "macos-arm64"
	WindowsX64   Platform = "windows-x64"
	WindowsArm64 Platform = "windows-arm64"
)

// All enumerates every known Platform in canonical sort order.
func All() []Platform {
	return []Platform{LinuxArm64, LinuxX64, MacosArm64, MacosX64, WindowsArm64, WindowsX64}
}

// Valid reports whether p is one of the six known platforms.
func (p Platform) Valid() bool {
	switch p {
	case LinuxX64, LinuxArm64, MacosX64, MacosArm64, WindowsX64, WindowsArm64:
		return true
	default:
		return false
	}
}

// info carries the per-platform metadata spec.md §3 requires.
type info struct {
	pypiArches           []string
	wheelTagPrefix       string
	pymarkerOSName       string // "posix" | "nt"
	pymarkerSysPlatform  string // "linux" | "darwin" | "win32"
	pymarkerPlatformSys  string // "Linux" | "Darwin" | "Windows"
	pymarkerMachines     []string
}

var metadata = map[Platform]info{
	LinuxX64: {
		pypiArches:          []string{"x86_64"},
		wheelTagPrefix:      "manylinux",
		pymarkerOSName:      "posix",
		pymarkerSysPlatform: "linux",
		pymarkerPlatformSys: "Linux",
		pymarkerMachines:    []string{"x86_64"},
	},
	LinuxArm64: {
		pypiArches:          []string{"aarch64", "armv7l", "arm64"},
		wheelTagPrefix:      "manylinux",
		pymarkerOSName:      "posix",
		pymarkerSysPlatform: "linux",
		pymarkerPlatformSys: "Linux",
		pymarkerMachines:    []string{"aarch64", "armv7l", "arm64"},
	},
	MacosX64: {
		pypiArches:          []string{"x86_64", "universal", "universal2", "intel", "fat3", "fat64"},
		wheelTagPrefix:      "macosx",
		pymarkerOSName:      "posix",
		pymarkerSysPlatform: "darwin",
		pymarkerPlatformSys: "Darwin",
		pymarkerMachines:    []string{"x86_64", "i386"},
	},
	MacosArm64: {
		pypiArches:          []string{"arm64", "universal2"},
		wheelTagPrefix:      "macosx",
		pymarkerOSName:      "posix",
		pymarkerSysPlatform: "darwin",
		pymarkerPlatformSys: "Darwin",
		pymarkerMachines:    []string{"arm64"},
	},
	WindowsX64: {
		pypiArches:          []string{"", "amd64"},
		wheelTagPrefix:      "win",
		pymarkerOSName:      "nt",
		pymarkerSysPlatform: "win32",
		pymarkerPlatformSys: "Windows",
		pymarkerMachines:    []string{"amd64"},
	},
	WindowsArm64: {
		pypiArches:          []string{"arm64"},
		wheelTagPrefix:      "win",
		pymarkerOSName:      "nt",
		pymarkerSysPlatform: "win32",
		pymarkerPlatformSys: "Windows",
		pymarkerMachines:    []string{"arm64"},
	},
}

func (p Platform) lookup() info {
	i, ok := metadata[p]
	if !ok {
		panic(fmt.Sprintf("blplatform: unknown platform %q", p))
	}

	return i
}

// PypiArches returns the PyPI CPU-architecture aliases a wheel platform tag
// may legally end with to be considered compatible with p.
func (p Platform) PypiArches() []string { return append([]string(nil), p.lookup().pypiArches...) }

// WheelPlatformTagPrefix returns the wheel platform-tag prefix for p
// ("manylinux", "macosx", or "win").
func (p Platform) WheelPlatformTagPrefix() string { return p.lookup().wheelTagPrefix }

// PymarkerOSName returns the PEP 508 os_name value ("posix" or "nt").
func (p Platform) PymarkerOSName() string { return p.lookup().pymarkerOSName }

// PymarkerSysPlatform returns the PEP 508 sys_platform value.
func (p Platform) PymarkerSysPlatform() string { return p.lookup().pymarkerSysPlatform }

// PymarkerPlatformSystem returns the PEP 508 platform_system value.
func (p Platform) PymarkerPlatformSystem() string { return p.lookup().pymarkerPlatformSys }

// PymarkerPlatformMachines returns the platform_machine alternatives p may
// present; a Blender version's marker environments enumerate one per value.
func (p Platform) PymarkerPlatformMachines() []string {
	return append([]string(nil), p.lookup().pymarkerMachines...)
}

// IsWindows reports whether p is a Windows platform.
func (p Platform) IsWindows() bool { return p == WindowsX64 || p == WindowsArm64 }

// IsLinux reports whether p is a Linux platform.
func (p Platform) IsLinux() bool { return p == LinuxX64 || p == LinuxArm64 }

// IsMacos reports whether p is a macOS platform.
func (p Platform) IsMacos() bool { return p == MacosX64 || p == MacosArm64 }

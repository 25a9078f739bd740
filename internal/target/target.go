// Package target describes the platform an object file is being emitted for:
// the architecture, the operating system, and the object-file container
// format that pairing implies.
package target

import (
	"fmt"
	"strings"
)

// Arch is the instruction-set architecture of the emitted code. The emitter
// never generates instructions itself; it only needs Arch to pick relocation
// type numbers and machine-type constants for the container header.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchX86_64
	ArchARM64
)

func (a Arch) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchARM64:
		return "arm64"
	default:
		return "unknown"
	}
}

// ParseArch parses a GOARCH-like architecture string.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "x86_64", "amd64", "x86-64":
		return ArchX86_64, nil
	case "arm64", "aarch64":
		return ArchARM64, nil
	default:
		return ArchUnknown, fmt.Errorf("target: unsupported architecture %q (supported: amd64, arm64)", s)
	}
}

// OS is the target operating system, which selects the container format
// (§4's "platform dispatch") and the unwind/debug strategy.
type OS int

const (
	OSLinux OS = iota
	OSDarwin
	OSWindows
)

func (o OS) String() string {
	switch o {
	case OSLinux:
		return "linux"
	case OSDarwin:
		return "darwin"
	case OSWindows:
		return "windows"
	default:
		return "unknown"
	}
}

// ParseOS parses a GOOS-like operating-system string.
func ParseOS(s string) (OS, error) {
	switch strings.ToLower(s) {
	case "linux":
		return OSLinux, nil
	case "darwin", "macos", "osx":
		return OSDarwin, nil
	case "windows", "win":
		return OSWindows, nil
	default:
		return 0, fmt.Errorf("target: unsupported OS %q (supported: linux, darwin, windows)", s)
	}
}

// Container identifies the object-file format a Target emits.
type Container int

const (
	ContainerELF Container = iota
	ContainerMachO
	ContainerCOFF
)

func (c Container) String() string {
	switch c {
	case ContainerELF:
		return "elf"
	case ContainerMachO:
		return "macho"
	case ContainerCOFF:
		return "coff"
	default:
		return "unknown"
	}
}

// Target pairs an Arch with an OS and exposes the derived properties the
// emitter's components switch on: container format, symbol-mangling rule,
// and unwind strategy.
type Target struct {
	arch Arch
	os   OS
}

// New returns a Target for the given architecture and operating system.
func New(arch Arch, os OS) Target {
	return Target{arch: arch, os: os}
}

func (t Target) Arch() Arch { return t.arch }
func (t Target) OS() OS     { return t.os }

func (t Target) String() string {
	return t.arch.String() + "-" + t.os.String()
}

// Container returns the object-file container format for this target.
func (t Target) Container() Container {
	switch t.os {
	case OSDarwin:
		return ContainerMachO
	case OSWindows:
		return ContainerCOFF
	default:
		return ContainerELF
	}
}

// NeedsUnderscorePrefix reports whether exported symbol names on this target
// carry the System V / OSX leading underscore (§4.2 platform_name rule).
func (t Target) NeedsUnderscorePrefix() bool {
	return t.os == OSDarwin
}

// UsesCFI reports whether unwind info for this target is a stream of CFI
// micro-records (Unix) rather than a single opaque UNWIND_INFO blob (Windows).
func (t Target) UsesCFI() bool {
	return t.os != OSWindows
}

// SupportsDebugLines reports whether the Debug-Line Engine is active for this
// target. Per §4.5 / §9, non-Windows targets intentionally suppress debug
// info for now.
func (t Target) SupportsDebugLines() bool {
	return t.os == OSWindows
}

package main

import (
	"fmt"

	"github.com/xyproto/vibeobj/internal/target"
	"github.com/xyproto/vibeobj/objemit/container"
	"github.com/xyproto/vibeobj/objemit/container/coff"
	"github.com/xyproto/vibeobj/objemit/container/elf"
	"github.com/xyproto/vibeobj/objemit/container/macho"
)

// newBackend picks the container.Backend for t's container format, mirroring
// the teacher's own target.go dispatch from an Arch/OS pair to one of its
// ELF/Mach-O/PE writers.
func newBackend(t target.Target, verbose bool) (container.Backend, error) {
	switch t.Container() {
	case target.ContainerELF:
		return elf.NewBackend(t.Arch(), verbose), nil
	case target.ContainerMachO:
		return macho.NewBackend(t.Arch(), verbose), nil
	case target.ContainerCOFF:
		return coff.NewBackend(t.Arch(), verbose), nil
	default:
		return nil, fmt.Errorf("unsupported container format for target %s", t)
	}
}

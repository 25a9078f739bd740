package objemit

import (
	"fmt"
	"os"

	"github.com/xyproto/vibeobj/objemit/container"
)

// Verbose mirrors the teacher's VerboseMode global (main.go): a single
// process-wide switch consulted wherever the driver would otherwise stay
// silent. cmd/objemit wires this to -v and OBJEMIT_VERBOSE.
var Verbose bool

func logf(format string, args ...any) {
	if Verbose {
		fmt.Fprintf(os.Stderr, "objemit: "+format+"\n", args...)
	}
}

// EmitObject produces the object file at path from nodes, using factory for
// platform facts and backend to obtain the native Writer Handle. It is the
// Driver of §4.1: a strict leaf that consumes the four per-node maps and
// forwards to the Writer Handle, single-threaded and sequential per §5.
func EmitObject(path string, nodes []Node, factory Factory, backend container.Backend) (err error) {
	h, initErr := backend.Init(path)
	if initErr != nil {
		return &EmitError{Path: path, Kind: KindContainerInit, Err: initErr}
	}

	// Scoped acquisition (§5): the handle is closed on every exit path,
	// exactly once, regardless of how EmitObject returns.
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			err = &EmitError{Path: path, Kind: KindContainerInit, Err: cerr}
		}
	}()

	fileTable := newDebugFileTable()
	fileTable.build(nodes, factory)
	if !fileTable.empty() {
		h.EmitDebugFileInfo(fileTable.names)
	}

	t := factory.Target()
	dup := newDuplicateGuard()
	var currentSection string
	haveSection := false

	for _, n := range nodes {
		if n.ShouldSkip() {
			continue
		}
		if err := dup.check(n.Name()); err != nil {
			return &EmitError{Path: path, Kind: KindDuplicateNodeName, Err: err}
		}

		if !haveSection || n.Section() != currentSection {
			currentSection = n.Section()
			haveSection = true
			h.SwitchSection(currentSection)
		}
		h.EmitAlignment(n.Alignment())

		data := n.Data(factory)
		size := uint32(len(data))

		syms := newSymbolMap()
		syms.build(n.DefinedSymbols(), factory)

		// Debug-line records are gated on the target, not merely on the
		// file table being empty (§4.5: non-Windows targets suppress debug
		// info entirely, regardless of what a node's DebugLocs carry).
		var locMap *debugLocMap
		if t.SupportsDebugLines() {
			locMap = newDebugLocMap(fileTable)
			locMap.build(n.DebugLocs())
		}

		var unixFrames *unixFrameEngine
		frames := n.FrameInfos()
		if t.UsesCFI() {
			unixFrames = newUnixFrameEngine()
			if ferr := unixFrames.build(frames); ferr != nil {
				return &EmitError{Path: path, Kind: frameErrorKind(ferr), Err: ferr}
			}
		} else {
			emitWindowsFrames(n.Name(), frames, h)
		}

		cursor := newRelocationCursor(n.Relocations())
		logf("node %q: %d bytes, section %q", n.Name(), size, currentSection)

		for i := uint32(0); i <= size; i++ {
			for _, name := range syms.at(i) {
				h.EmitSymbolDef(name)
			}
			if unixFrames != nil {
				if ferr := unixFrames.emitAt(i, h); ferr != nil {
					return &EmitError{Path: path, Kind: frameErrorKind(ferr), Err: ferr}
				}
			}
			if locMap != nil {
				locMap.emitAt(i, h)
			}

			if i == size {
				break
			}

			if r, ok := cursor.at(i); ok {
				width, pcRelative, werr := relocWidth(r.Kind)
				if werr != nil {
					return &EmitError{Path: path, Kind: KindUnsupportedReloc, Err: werr}
				}
				mangled := platformName(t)(r.TargetSymbol)
				h.EmitSymbolRef(mangled, width, pcRelative, r.Delta)
				i += uint32(width) - 1 // loop's i++ accounts for the last unit
				continue
			}

			h.EmitBlob(data[i : i+1])
		}

		if locMap != nil {
			locMap.flush(n.Name(), size, h)
		}

		// Idempotent section-switch terminator (§4.1 step 7).
		h.SwitchSection(currentSection)
	}

	return nil
}

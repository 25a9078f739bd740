// Package container models the narrow native-emitter ABI the Driver in
// package objemit consumes (see SPEC_FULL.md §6). In the reference toolchain
// this is delegated to a real external object-file library; no such Go
// module exists in this ecosystem, so each backend here is a hand-rolled
// writer in the same direct byte-oriented style the teacher toolchain uses
// for its own ELF/Mach-O/PE output (elf.go, macho.go, pe.go).
package container

import "fmt"

// RelocKind mirrors objemit's two supported relocation kinds. It is
// duplicated here (rather than imported back from objemit) to keep this
// package a leaf with no dependency on its own consumer.
type RelocKind int

const (
	RelocABS64 RelocKind = iota
	RelocREL32
)

// Handle is one opened output file. It is owned exclusively by the Driver
// that created it (§5): all calls happen on a single goroutine, in the
// order the Driver's per-node protocol describes, and Close is called
// exactly once on every exit path.
type Handle interface {
	// SwitchSection opens (or re-enters) the named section. The Driver also
	// calls this as an idempotent terminator between nodes (§4.1 step 7).
	SwitchSection(name string)

	// EmitAlignment pads the current section to the given byte alignment.
	EmitAlignment(bytes int)

	// EmitBlob appends literal bytes to the current section at the cursor.
	EmitBlob(data []byte)

	// EmitSymbolDef records a symbol definition at the current cursor.
	EmitSymbolDef(name string)

	// EmitSymbolRef emits a relocation slot at the cursor referencing name.
	// size is the slot width in bytes, pcRelative marks REL32-style slots,
	// and delta is the addend. The backend reserves size zero bytes for the
	// slot in the current section; the caller must skip the corresponding
	// data bytes rather than also emitting them with EmitBlob.
	EmitSymbolRef(name string, size int, pcRelative bool, delta int64)

	// EmitWinFrameInfo emits one opaque Windows UNWIND_INFO record for the
	// function named method, covering [start, end) of the current section.
	EmitWinFrameInfo(method string, start, end uint32, blob []byte, personality string, lsda []byte)

	// EmitCFIStart / EmitCFIEnd / EmitCFIBlob emit Unix CFI directives at the
	// given offset in the current section.
	EmitCFIStart(offset uint32)
	EmitCFIEnd(offset uint32)
	EmitCFIBlob(offset uint32, record [8]byte)

	// EmitDebugFileInfo emits the global file-name table (§4.5 phase 1).
	EmitDebugFileInfo(names []string)

	// EmitDebugLoc emits one source-line mapping at offset in the current
	// section, and FlushDebugLocs closes out a node's debug records.
	EmitDebugLoc(offset uint32, fileID int, line, col int)
	FlushDebugLocs(method string, size uint32)

	// Close finalizes and writes the object file. Calling Close more than
	// once is a no-op (§5's "never double-close" rule).
	Close() error
}

// Backend constructs a Handle for one output path.
type Backend interface {
	Init(path string) (Handle, error)
}

// ErrInitFailed describes a writer that could not be opened for a path
// (§7 error kind 1). The elf, macho and coff backends in this module never
// return it: their Init always succeeds, and the output file is only
// created by Close.
type ErrInitFailed struct {
	Path string
	Err  error
}

func (e *ErrInitFailed) Error() string {
	return fmt.Sprintf("container: failed to open writer for %s: %v", e.Path, e.Err)
}

func (e *ErrInitFailed) Unwrap() error { return e.Err }

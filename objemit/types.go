// Package objemit serializes an ordered sequence of object nodes — raw
// bytes, defined symbols, relocations, unwind/frame info, and optional
// debug-line mapping — into a native linkable object file, grounded on the
// teacher toolchain's codegen_{elf,macho,pe}_writer.go per-node emission
// loops and generalized from "compile one program" to "emit one node
// sequence supplied by any caller."
package objemit

import "github.com/xyproto/vibeobj/internal/target"

// RelocKind is one of the two relocation kinds this emitter understands.
// Adding a kind means adding an explicit width/pc-relative entry to the
// fixed table in relocation.go — there is no generic mechanism (§4.3).
type RelocKind int

const (
	RelocABS64 RelocKind = iota // 8 bytes, absolute
	RelocREL32                  // 4 bytes, PC-relative
)

func (k RelocKind) String() string {
	switch k {
	case RelocABS64:
		return "ABS64"
	case RelocREL32:
		return "REL32"
	default:
		return "unknown"
	}
}

// Relocation is a placeholder within a node's data that the linker resolves
// to an address at link time.
type Relocation struct {
	Offset       uint32
	Kind         RelocKind
	TargetSymbol string
	Delta        int64
}

// DefinedSymbol is one (mangled_name, offset) pair exposed by a node.
type DefinedSymbol struct {
	Name   string
	Offset uint32
}

// FrameInfo describes one unwind region within a node's data. On Windows
// Blob is an opaque UNWIND_INFO record emitted whole; on Unix it is a
// concatenation of fixed 8-byte CFI records whose first byte is the
// in-frame delta from Start (§4.4).
type FrameInfo struct {
	Start, End uint32
	Blob       []byte
	// Personality and LSDA are carried through to the Windows strategy's
	// win_frame_info record; Unix CFI ignores them.
	Personality string
	LSDA        []byte
}

// DebugLocInfo maps one byte offset in a node's data to a source location.
type DebugLocInfo struct {
	NativeOffset uint32
	FileName     string
	Line, Col    int
}

// Node is the input collaborator interface this emitter consumes (§6). A
// node always carries section/alignment/data/symbols/relocations; frame
// info and debug info are optional capability sets.
type Node interface {
	Name() string
	Section() string
	Alignment() int
	Data(f Factory) []byte
	DefinedSymbols() []DefinedSymbol
	Relocations() []Relocation
	FrameInfos() []FrameInfo
	DebugLocs() []DebugLocInfo
	ShouldSkip() bool
}

// Factory supplies per-target facts the Symbol Map and Driver need but
// which don't belong on the node itself (§6).
type Factory interface {
	Target() target.Target
	AlternateName(symbol string) (string, bool)
}

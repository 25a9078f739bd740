// Package coff is the COFF object-file (.obj) backend for the
// container.Handle ABI, grounded on the teacher toolchain's pe.go/pe_reader.go
// (IMAGE_* structure shapes) and codegen_pe_writer.go, adapted from
// "build one fixed PE executable" to "build a COFF object file with an
// arbitrary number of named sections, a real symbol table, and Windows
// UNWIND_INFO records attached per function."
package coff

import (
	"bytes"
	"os"

	"github.com/xyproto/vibeobj/internal/target"
	"github.com/xyproto/vibeobj/objemit/container"
)

const (
	fileHeaderSize = 20
	sectHeaderSize = 40
	relocEntSize   = 10
	symEntSize     = 18

	machineAMD64 = 0x8664
	machineARM64 = 0xaa64

	imageScnCntCode            = 0x00000020
	imageScnCntInitializedData = 0x00000040
	imageScnMemExecute         = 0x20000000
	imageScnMemRead            = 0x40000000
	imageScnMemWrite           = 0x80000000

	imageRelAmd64Addr64 = 0x0001 // ABS64
	imageRelAmd64Rel32  = 0x0004 // REL32
	imageRelArm64Abs64  = 0x000E
	imageRelArm64Rel32  = 0x0011

	imageSymClassExternal = 2
	imageSymDTypeFunction = 0x2 << 4
)

// Backend constructs COFF Handles for a fixed architecture.
type Backend struct {
	Arch    target.Arch
	Verbose bool
}

func NewBackend(arch target.Arch, verbose bool) *Backend {
	return &Backend{Arch: arch, Verbose: verbose}
}

func (b *Backend) Init(path string) (container.Handle, error) {
	return newHandle(path, b.Arch), nil
}

type section struct {
	name string
	data bytes.Buffer
	char uint32
}

type symbol struct {
	name    string
	section string
	value   uint32
}

type reloc struct {
	section string
	offset  uint32
	symbol  string
	typ     uint16
}

type winFrame struct {
	method      string
	start, end  uint32
	blob        []byte
	personality string
	lsda        []byte
}

type debugLoc struct {
	section string
	offset  uint32
	fileID  int
	line    int
	col     int
}

// Handle accumulates one node-by-node emission for a single COFF object.
type Handle struct {
	path   string
	arch   target.Arch
	closed bool

	order    []string
	sections map[string]*section
	cur      *section

	symbols []symbol
	relocs  []reloc

	winFrames []winFrame

	debugFiles []string
	debugLocs  []debugLoc
	flushed    []flushedMethod
}

type flushedMethod struct {
	method string
	size   uint32
}

func newHandle(path string, arch target.Arch) *Handle {
	return &Handle{path: path, arch: arch, sections: make(map[string]*section)}
}

func (h *Handle) machine() uint16 {
	if h.arch == target.ArchARM64 {
		return machineARM64
	}
	return machineAMD64
}

func (h *Handle) SwitchSection(name string) {
	s, ok := h.sections[name]
	if !ok {
		char := uint32(imageScnCntInitializedData | imageScnMemRead | imageScnMemWrite)
		if name == "text" {
			char = imageScnCntCode | imageScnMemExecute | imageScnMemRead
		}
		s = &section{name: name, char: char}
		h.sections[name] = s
		h.order = append(h.order, name)
	}
	h.cur = s
}

func (h *Handle) EmitAlignment(n int) {
	if h.cur == nil || n <= 1 {
		return
	}
	if rem := h.cur.data.Len() % n; rem != 0 {
		h.cur.data.Write(make([]byte, n-rem))
	}
}

func (h *Handle) EmitBlob(data []byte) { h.cur.data.Write(data) }

func (h *Handle) EmitSymbolDef(name string) {
	h.symbols = append(h.symbols, symbol{name: name, section: h.cur.name, value: uint32(h.cur.data.Len())})
}

func (h *Handle) EmitSymbolRef(name string, size int, pcRelative bool, delta int64) {
	h.relocs = append(h.relocs, reloc{
		section: h.cur.name,
		offset:  uint32(h.cur.data.Len()),
		symbol:  name,
		typ:     h.relocType(pcRelative),
	})
	h.cur.data.Write(make([]byte, size))
}

func (h *Handle) relocType(pcRelative bool) uint16 {
	if h.arch == target.ArchARM64 {
		if pcRelative {
			return imageRelArm64Rel32
		}
		return imageRelArm64Abs64
	}
	if pcRelative {
		return imageRelAmd64Rel32
	}
	return imageRelAmd64Addr64
}

// EmitWinFrameInfo records one opaque UNWIND_INFO blob, per §4.4's Windows
// strategy: the blob is never interleaved with data, unlike Unix CFI.
func (h *Handle) EmitWinFrameInfo(method string, start, end uint32, blob []byte, personality string, lsda []byte) {
	h.winFrames = append(h.winFrames, winFrame{method: method, start: start, end: end, blob: blob, personality: personality, lsda: lsda})
}

func (h *Handle) EmitCFIStart(offset uint32)           {}
func (h *Handle) EmitCFIEnd(offset uint32)             {}
func (h *Handle) EmitCFIBlob(offset uint32, r [8]byte) {}

func (h *Handle) EmitDebugFileInfo(names []string) { h.debugFiles = names }

func (h *Handle) EmitDebugLoc(offset uint32, fileID int, line, col int) {
	h.debugLocs = append(h.debugLocs, debugLoc{section: h.cur.name, offset: offset, fileID: fileID, line: line, col: col})
}

func (h *Handle) FlushDebugLocs(method string, size uint32) {
	if len(h.debugLocs) == 0 {
		return
	}
	h.flushed = append(h.flushed, flushedMethod{method: method, size: size})
}

func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	img, err := h.build()
	if err != nil {
		return err
	}
	return os.WriteFile(h.path, img, 0o644)
}

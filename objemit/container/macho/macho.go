// Package macho is the Mach-O MH_OBJECT backend for the container.Handle
// ABI, grounded on the teacher toolchain's macho.go (MachOHeader64,
// SegmentCommand64, Section64, SymtabCommand, Nlist64 struct shapes),
// adapted from "one fixed executable segment" to "one relocatable object
// segment holding an arbitrary number of named sections."
package macho

import (
	"bytes"
	"os"

	"github.com/xyproto/vibeobj/internal/target"
	"github.com/xyproto/vibeobj/objemit/container"
	"github.com/xyproto/vibeobj/objemit/container/internal/lewriter"
)

const (
	mhMagic64 = 0xfeedfacf
	mhObject  = 0x1
	cpuX86_64 = 0x01000007
	cpuARM64  = 0x0100000c
	cpuSubAll = 0x3

	lcSegment64 = 0x19
	lcSymtab    = 0x2

	machHeaderSize = 32
	segCmdSize     = 72
	sectCmdSize    = 80
	symtabCmdSize  = 24
	nlistSize      = 16

	nExt  = 0x01
	nSect = 0xe
	nUndf = 0x0

	// the one generic relocation type we need: "this slot holds an address
	// of a symbol," with no architecture-specific addend encoding.
	genericRelocVanilla = 0
)

// Backend constructs Mach-O Handles for a fixed architecture.
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
}

type symbol struct {
	name    string
	section string
	value   uint64
}

type reloc struct {
	section string
	offset  uint32
	symbol  string
	pcRel   bool
	length  uint8 // log2 byte size: 2 => 4 bytes, 3 => 8 bytes
}

type frame struct {
	start, end uint32
	blob       [][8]byte
}

// Handle accumulates one node-by-node emission for a single Mach-O object.
type Handle struct {
	path   string
	arch   target.Arch
	closed bool

	order    []string
	sections map[string]*section
	cur      *section

	symbols []symbol
	relocs  []reloc

	curFrame *frame
	frames   []frame

	debugFiles []string
}

func newHandle(path string, arch target.Arch) *Handle {
	return &Handle{path: path, arch: arch, sections: make(map[string]*section)}
}

func (h *Handle) cpuType() uint32 {
	if h.arch == target.ArchARM64 {
		return cpuARM64
	}
	return cpuX86_64
}

func (h *Handle) SwitchSection(name string) {
	s, ok := h.sections[name]
	if !ok {
		s = &section{name: name}
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
	// OSX underscore-prefixing (§4.2) is applied by objemit's Symbol Map
	// before this call; the container only records what it's given.
	h.symbols = append(h.symbols, symbol{name: name, section: h.cur.name, value: uint64(h.cur.data.Len())})
}

func (h *Handle) EmitSymbolRef(name string, size int, pcRelative bool, delta int64) {
	length := uint8(2)
	if size == 8 {
		length = 3
	}
	h.relocs = append(h.relocs, reloc{
		section: h.cur.name,
		offset:  uint32(h.cur.data.Len()),
		symbol:  name,
		pcRel:   pcRelative,
		length:  length,
	})
	h.cur.data.Write(make([]byte, size))
}

func (h *Handle) EmitWinFrameInfo(method string, start, end uint32, blob []byte, personality string, lsda []byte) {
	// Windows-only; never called on a Mach-O target.
}

func (h *Handle) EmitCFIStart(offset uint32) { h.curFrame = &frame{start: offset} }

func (h *Handle) EmitCFIEnd(offset uint32) {
	if h.curFrame != nil {
		h.curFrame.end = offset
		h.frames = append(h.frames, *h.curFrame)
		h.curFrame = nil
	}
}

func (h *Handle) EmitCFIBlob(offset uint32, record [8]byte) {
	if h.curFrame != nil {
		h.curFrame.blob = append(h.curFrame.blob, record)
	}
}

func (h *Handle) EmitDebugFileInfo(names []string) { h.debugFiles = names }
func (h *Handle) EmitDebugLoc(offset uint32, fileID int, line, col int) {
	// OSX targets suppress debug info per §4.5/§9; nothing recorded.
}
func (h *Handle) FlushDebugLocs(method string, size uint32) {}

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

type laidSection struct {
	name     string
	offset   uint32
	size     uint32
	relocOff uint32
	nreloc   uint32
}

// build assembles the Mach-O header, a single LC_SEGMENT_64 covering every
// recorded section, an LC_SYMTAB command, then section bytes, relocations,
// and the symbol/string tables.
func (h *Handle) build() ([]byte, error) {
	unwind := buildUnwindSection(h.frames)

	names := append([]string{}, h.order...)
	sizes := make(map[string]*bytes.Buffer, len(names))
	for _, n := range names {
		sizes[n] = &h.sections[n].data
	}
	if len(unwind) > 0 {
		names = append(names, "__unwind_cfi")
	}

	headerSize := uint32(machHeaderSize + segCmdSize + uint32(len(names))*sectCmdSize + symtabCmdSize)

	w := lewriter.New()
	w.Zero(int(headerSize)) // patched in below, once layout is known

	var laid []laidSection
	for _, name := range names {
		off := uint32(w.Len())
		var size uint32
		if name == "__unwind_cfi" {
			w.Bytes(unwind)
			size = uint32(len(unwind))
		} else {
			s := h.sections[name]
			w.Bytes(s.data.Bytes())
			size = uint32(s.data.Len())
		}
		laid = append(laid, laidSection{name: name, offset: off, size: size})
	}
	segmentFileSize := uint32(w.Len()) - headerSize

	relocsBySection := make(map[string][]reloc)
	for _, r := range h.relocs {
		relocsBySection[r.section] = append(relocsBySection[r.section], r)
	}
	symIndex := make(map[string]uint32)
	for i := range laid {
		rs := relocsBySection[laid[i].name]
		if len(rs) == 0 {
			continue
		}
		laid[i].relocOff = uint32(w.Len())
		laid[i].nreloc = uint32(len(rs))
		for _, r := range rs {
			symIdx, ok := symIndex[r.symbol]
			if !ok {
				symIdx = uint32(len(symIndex))
				symIndex[r.symbol] = symIdx
			}
			w.U32(r.offset)
			bits := symIdx & 0xffffff
			if r.pcRel {
				bits |= 1 << 24
			}
			bits |= uint32(r.length&0x3) << 25
			bits |= 1 << 27 // r_extern
			bits |= genericRelocVanilla << 28
			w.U32(bits)
		}
	}

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	strOffsets := make(map[string]uint32)
	addStr := func(s string) uint32 {
		if off, ok := strOffsets[s]; ok {
			return off
		}
		off := uint32(strtab.Len())
		strtab.WriteString(s)
		strtab.WriteByte(0)
		strOffsets[s] = off
		return off
	}

	secOrdinal := make(map[string]uint8, len(laid))
	for i, s := range laid {
		secOrdinal[s.name] = uint8(i + 1)
	}

	symtabOff := uint32(w.Len())
	var nsyms uint32
	for _, s := range h.symbols {
		w.U32(addStr(s.name))
		w.U8(nExt | nSect)
		w.U8(secOrdinal[s.section])
		w.U16(0)
		w.U64(s.value)
		nsyms++
	}
	for name := range symIndex {
		if _, defined := strOffsets[name]; defined {
			continue
		}
		w.U32(addStr(name))
		w.U8(nExt | nUndf)
		w.U8(0)
		w.U16(0)
		w.U64(0)
		nsyms++
	}
	strtabOff := uint32(w.Len())
	w.Bytes(strtab.Bytes())

	img := w.Final()
	patchMachOHeader(img, h.cpuType(), headerSize, segmentFileSize, laid, symtabOff, nsyms, strtabOff, uint32(strtab.Len()))
	return img, nil
}

const segmentName = "__TEXT"

// patchMachOHeader fills in the mach_header_64, one LC_SEGMENT_64 with a
// Section64 per laid-out section, and one LC_SYMTAB, all of which were
// reserved as zero bytes at the start of the image in build().
func patchMachOHeader(img []byte, cpuType, headerSize, segFileSize uint32, laid []laidSection, symtabOff, nsyms, strtabOff, strsize uint32) {
	p := 0
	putU32 := func(v uint32) { putLE32(img[p:], v); p += 4 }
	putU64 := func(v uint64) { putLE64(img[p:], v); p += 8 }
	putName := func(s string) {
		n := copy(img[p:p+16], s)
		_ = n
		p += 16
	}

	putU32(mhMagic64)
	putU32(cpuType)
	putU32(cpuSubAll)
	putU32(mhObject)
	putU32(2) // ncmds: LC_SEGMENT_64 + LC_SYMTAB
	putU32(segCmdSize + uint32(len(laid))*sectCmdSize + symtabCmdSize)
	putU32(0) // flags
	putU32(0) // reserved

	// LC_SEGMENT_64
	putU32(lcSegment64)
	putU32(segCmdSize + uint32(len(laid))*sectCmdSize)
	putName(segmentName)
	putU64(0)                   // vmaddr
	putU64(uint64(segFileSize)) // vmsize
	putU64(uint64(headerSize))  // fileoff
	putU64(uint64(segFileSize)) // filesize
	putU32(7)                   // maxprot RWX
	putU32(7)                   // initprot RWX
	putU32(uint32(len(laid)))
	putU32(0) // flags

	for _, s := range laid {
		sectName := s.name // "text" -> "__text"
		if len(sectName) < 2 || sectName[:2] != "__" {
			sectName = "__" + sectName
		}
		putName(sectName)
		putName(segmentName)
		putU64(uint64(s.offset)) // addr (object-relative; no linking occurs here)
		putU64(uint64(s.size))
		putU32(s.offset)
		putU32(4) // align = 2^4
		putU32(s.relocOff)
		putU32(s.nreloc)
		putU32(0) // flags
		putU32(0) // reserved1
		putU32(0) // reserved2
		putU32(0) // reserved3
	}

	// LC_SYMTAB
	putU32(lcSymtab)
	putU32(symtabCmdSize)
	putU32(symtabOff)
	putU32(nsyms)
	putU32(strtabOff)
	putU32(strsize)
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func buildUnwindSection(frames []frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	w := lewriter.New()
	w.U32(uint32(len(frames)))
	for _, f := range frames {
		w.U32(f.start)
		w.U32(f.end)
		w.U32(uint32(len(f.blob)))
		for _, rec := range f.blob {
			w.Bytes(rec[:])
		}
	}
	return w.Final()
}

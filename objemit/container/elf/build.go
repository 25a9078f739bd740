package elf

import (
	"sort"

	"github.com/xyproto/vibeobj/objemit/container/internal/lewriter"
)

// build lays out the accumulated sections, symbol table, string table and
// relocation sections into a single ELF64 relocatable object image.
//
// Layout (in file order): ELF header, section contents (in first-seen
// order), .unwind_cfi (if any Unix frame directives were recorded),
// .symtab, .strtab, one .rela.<section> per section with relocations,
// .shstrtab, then the section header table.
func (h *Handle) build() ([]byte, error) {
	var strtab stringTable
	strtab.add("") // index 0 is always the empty string

	// Resolve defined-symbol section indices once section order is final.
	secIndex := make(map[string]int, len(h.order))
	for i, name := range h.order {
		secIndex[name] = i + 1 // +1: section 0 is SHN_UNDEF
	}

	symByName := make(map[string]int) // name -> symtab index
	var syms []elfSym
	syms = append(syms, elfSym{}) // null symbol

	// Defined symbols, in emission order (stable, matches §8 symbol ordering).
	for _, s := range h.symbols {
		syms = append(syms, elfSym{
			name:  strtab.add(s.name),
			info:  s.bind<<4 | s.typ,
			shndx: uint16(secIndex[s.section]),
			value: s.value,
		})
		symByName[s.name] = len(syms) - 1
	}

	// Undefined symbols referenced only by relocations (external/link-time).
	for _, r := range h.relocs {
		if _, ok := symByName[r.symbol]; ok {
			continue
		}
		syms = append(syms, elfSym{
			name: strtab.add(r.symbol),
			info: stbGlobal<<4 | sttNotype,
		})
		symByName[r.symbol] = len(syms) - 1
	}

	relocsBySection := make(map[string][]reloc)
	for _, r := range h.relocs {
		relocsBySection[r.section] = append(relocsBySection[r.section], r)
	}

	unwind := buildUnwindSection(h.unixFrames)

	w := lewriter.New()

	// --- Section contents, in first-seen order ---
	type laidOut struct {
		name   string
		typ    uint32
		flags  uint64
		offset uint64
		size   uint64
		link   uint32
		info   uint32
		entsz  uint64
	}
	var laid []laidOut

	w.Zero(ehSize) // placeholder; header is patched in at the end
	elfNames := make(map[string]string, len(h.order)) // "text" -> ".text"
	for _, name := range h.order {
		s := h.sections[name]
		off := uint64(w.Len())
		w.Bytes(s.data.Bytes())
		elfName := name
		if len(elfName) == 0 || elfName[0] != '.' {
			elfName = "." + elfName
		}
		elfNames[name] = elfName
		laid = append(laid, laidOut{name: elfName, typ: s.typ, flags: s.flags, offset: off, size: uint64(s.data.Len())})
	}

	if len(unwind) > 0 {
		off := uint64(w.Len())
		w.Bytes(unwind)
		laid = append(laid, laidOut{name: ".unwind_cfi", typ: shtProgbit, offset: off, size: uint64(len(unwind))})
	}

	symtabOff := uint64(w.Len())
	for _, s := range syms {
		w.U32(s.name)
		w.U8(s.info)
		w.U8(0)
		w.U16(s.shndx)
		w.U64(s.value)
		w.U64(0)
	}
	symtabSize := uint64(w.Len()) - symtabOff

	strtabOff := uint64(w.Len())
	w.Bytes(strtab.bytes())
	strtabSize := uint64(w.Len()) - strtabOff

	symtabSecIdx := uint32(len(h.order)) + boolU32(len(unwind) > 0) + 1
	laid = append(laid, laidOut{name: ".symtab", typ: shtSymtab, offset: symtabOff, size: symtabSize, link: symtabSecIdx + 1, info: uint32(firstGlobal(syms)), entsz: symEntSz})
	laid = append(laid, laidOut{name: ".strtab", typ: shtStrtab, offset: strtabOff, size: strtabSize})

	// One .rela section per original section that carries relocations.
	relaNames := make([]string, 0, len(relocsBySection))
	for name := range relocsBySection {
		relaNames = append(relaNames, name)
	}
	sort.Strings(relaNames)
	for _, name := range relaNames {
		rs := relocsBySection[name]
		off := uint64(w.Len())
		for _, r := range rs {
			symIdx := uint64(symByName[r.symbol])
			w.U64(r.offset)
			w.U64(symIdx<<32 | uint64(r.relType))
			w.I64(r.addend)
		}
		size := uint64(w.Len()) - off
		laid = append(laid, laidOut{
			name: ".rela" + elfNames[name], typ: shtRela, offset: off, size: size,
			link: symtabSecIdx, info: uint32(secIndex[name]), entsz: relaEnt,
		})
	}

	// --- .shstrtab ---
	var shstrtab stringTable
	shstrtab.add("") // SHN_UNDEF's name
	shstrtabOff := uint64(w.Len())
	nameOffsets := make([]uint32, len(laid))
	for i, s := range laid {
		nameOffsets[i] = shstrtab.add(s.name)
	}
	shstrtabNameOff := shstrtab.add(".shstrtab")
	w.Bytes(shstrtab.bytes())
	shstrtabSize := uint64(w.Len()) - shstrtabOff

	// --- section header table ---
	shoff := uint64(w.Len())
	numSections := uint16(1 + len(laid) + 1) // NULL + laid sections + shstrtab
	shstrndx := uint16(len(laid) + 1)

	writeShdr(w, 0, shtNull, 0, 0, 0, 0, 0, 0, 0)
	for i, s := range laid {
		writeShdr(w, nameOffsets[i], s.typ, s.flags, s.offset, s.size, s.link, s.info, 1, s.entsz)
	}
	writeShdr(w, shstrtabNameOff, shtStrtab, 0, shstrtabOff, shstrtabSize, 0, 0, 1, 0)

	img := w.Final()
	patchELFHeader(img, h.machineType(), shoff, numSections, shstrndx)
	return img, nil
}

func firstGlobal(syms []elfSym) int {
	for i, s := range syms {
		if s.info>>4 == stbGlobal {
			return i
		}
	}
	return len(syms)
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func writeShdr(w *lewriter.Writer, name uint32, typ uint32, flags uint64, offset, size uint64, link, info uint32, align, entsz uint64) {
	w.U32(name)
	w.U32(typ)
	w.U64(flags)
	w.U64(0) // addr
	w.U64(offset)
	w.U64(size)
	w.U32(link)
	w.U32(info)
	w.U64(align)
	w.U64(entsz)
}

func patchELFHeader(img []byte, machine uint16, shoff uint64, shnum, shstrndx uint16) {
	copy(img[0:4], []byte{0x7f, 'E', 'L', 'F'})
	img[4] = 2 // ELFCLASS64
	img[5] = 1 // ELFDATA2LSB
	img[6] = 1 // EV_CURRENT
	img[7] = 0 // ELFOSABI_SYSV
	putU16(img[16:], etREL)
	putU16(img[18:], machine)
	putU32(img[20:], 1) // e_version
	putU64(img[24:], 0) // e_entry
	putU64(img[32:], 0) // e_phoff
	putU64(img[40:], shoff)
	putU32(img[48:], 0) // e_flags
	putU16(img[52:], ehSize)
	putU16(img[54:], 0) // e_phentsize
	putU16(img[56:], 0) // e_phnum
	putU16(img[58:], shEntSz)
	putU16(img[60:], shnum)
	putU16(img[62:], shstrndx)
}

func putU16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

type elfSym struct {
	name  uint32
	info  byte
	shndx uint16
	value uint64
}

type stringTable struct {
	data []byte
	seen map[string]uint32
}

func (t *stringTable) add(s string) uint32 {
	if t.seen == nil {
		t.seen = make(map[string]uint32)
	}
	if off, ok := t.seen[s]; ok {
		return off
	}
	off := uint32(len(t.data))
	t.data = append(t.data, s...)
	t.data = append(t.data, 0)
	t.seen[s] = off
	return off
}

func (t *stringTable) bytes() []byte { return t.data }

// buildUnwindSection serializes the Unix CFI directives this Handle
// recorded into a simple, self-contained auxiliary section: not real DWARF
// .eh_frame (that encoding is delegated to the real container library this
// backend stands in for; see SPEC_FULL.md §10.5), but a faithful record of
// each frame's [start,end) range and its rebased CFI records, preserving
// exactly what the Driver chose to emit and in what order.
func buildUnwindSection(frames []frameEnd) []byte {
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

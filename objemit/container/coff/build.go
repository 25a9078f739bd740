package coff

import (
	"bytes"

	"github.com/xyproto/vibeobj/objemit/container/internal/lewriter"
)

type laidSection struct {
	name     string
	rawOff   uint32
	rawSize  uint32
	relocOff uint32
	nreloc   uint16
	char     uint32
}

// build assembles a COFF object image: file header, section header table,
// section contents, relocation tables, an auxiliary ".xunwind"/".debug$L"
// section carrying the UNWIND_INFO blobs and debug-line records this Handle
// recorded (§10.5: the real CodeView/.pdata encoding is delegated to the
// native container library this backend stands in for; we keep a faithful,
// self-describing record instead), then the symbol table and string table.
func (h *Handle) build() ([]byte, error) {
	unwind := buildUnwindSection(h.winFrames, h.debugFiles, h.debugLocs, h.flushed)

	names := append([]string{}, h.order...)
	if len(unwind) > 0 {
		names = append(names, ".xunwind")
	}

	headerSize := fileHeaderSize + len(names)*sectHeaderSize

	w := lewriter.New()
	w.Zero(headerSize)

	var laid []laidSection

	relocsBySection := make(map[string][]reloc)
	for _, r := range h.relocs {
		relocsBySection[r.section] = append(relocsBySection[r.section], r)
	}

	for _, name := range names {
		off := uint32(w.Len())
		var size uint32
		var char uint32 = imageScnCntInitializedData | imageScnMemRead
		if name == ".xunwind" {
			w.Bytes(unwind)
			size = uint32(len(unwind))
		} else {
			s := h.sections[name]
			w.Bytes(s.data.Bytes())
			size = uint32(s.data.Len())
			char = s.char
		}
		laid = append(laid, laidSection{name: name, rawOff: off, rawSize: size, char: char})
	}

	symIndex := make(map[string]uint32)
	var symbols []coffSym
	secOrdinal := make(map[string]int16, len(laid))
	for i, s := range laid {
		secOrdinal[s.name] = int16(i + 1)
	}
	for _, s := range h.symbols {
		symbols = append(symbols, coffSym{
			name:    s.name,
			value:   s.value,
			section: secOrdinal[s.section],
			typ:     imageSymDTypeFunction,
			class:   imageSymClassExternal,
		})
		symIndex[s.name] = uint32(len(symbols) - 1)
	}
	for _, r := range h.relocs {
		if _, ok := symIndex[r.symbol]; ok {
			continue
		}
		symbols = append(symbols, coffSym{name: r.symbol, section: 0, class: imageSymClassExternal})
		symIndex[r.symbol] = uint32(len(symbols) - 1)
	}

	for i := range laid {
		rs := relocsBySection[laid[i].name]
		if len(rs) == 0 {
			continue
		}
		laid[i].relocOff = uint32(w.Len())
		laid[i].nreloc = uint16(len(rs))
		for _, r := range rs {
			w.U32(r.offset)
			w.U32(symIndex[r.symbol])
			w.U16(r.typ)
		}
	}

	symtabOff := uint32(w.Len())
	var strtab bytes.Buffer
	for _, s := range symbols {
		writeCOFFSymbol(w, &strtab, s)
	}
	// String table: 4-byte total-size prefix, then NUL-terminated strings.
	w.U32(uint32(strtab.Len() + 4))
	w.Bytes(strtab.Bytes())

	img := w.Final()
	patchCOFFHeader(img, h.machine(), laid, uint16(len(symbols)), symtabOff)
	return img, nil
}

type coffSym struct {
	name    string
	value   uint32
	section int16
	typ     uint16
	class   byte
}

// writeCOFFSymbol emits one 18-byte IMAGE_SYMBOL record. Names over 8 bytes
// go through the string table (a zero first 4 bytes followed by the 4-byte
// string-table offset); short names are packed inline, matching the real
// COFF convention the teacher's pe.go reads back in pe_reader.go.
func writeCOFFSymbol(w *lewriter.Writer, strtab *bytes.Buffer, s coffSym) {
	if len(s.name) <= 8 {
		var buf [8]byte
		copy(buf[:], s.name)
		w.Bytes(buf[:])
	} else {
		w.U32(0)
		w.U32(uint32(strtab.Len() + 4))
		strtab.WriteString(s.name)
		strtab.WriteByte(0)
	}
	w.U32(s.value)
	w.U16(uint16(s.section))
	w.U16(s.typ)
	w.U8(s.class)
	w.U8(0) // number of aux symbols
}

func patchCOFFHeader(img []byte, machine uint16, laid []laidSection, nsyms uint16, symtabOff uint32) {
	p := 0
	putU16 := func(v uint16) { img[p] = byte(v); img[p+1] = byte(v >> 8); p += 2 }
	putU32 := func(v uint32) {
		img[p] = byte(v)
		img[p+1] = byte(v >> 8)
		img[p+2] = byte(v >> 16)
		img[p+3] = byte(v >> 24)
		p += 4
	}

	putU16(machine)
	putU16(uint16(len(laid)))
	putU32(0) // timestamp
	putU32(symtabOff)
	putU32(uint32(nsyms))
	putU16(0) // size of optional header (0 for an object file)
	putU16(0) // characteristics

	for _, s := range laid {
		var nameBuf [8]byte
		copy(nameBuf[:], s.name)
		copy(img[p:p+8], nameBuf[:])
		p += 8
		putU32(s.rawSize) // VirtualSize
		putU32(s.rawOff)  // VirtualAddress (object file: informational only)
		putU32(s.rawSize) // SizeOfRawData
		putU32(s.rawOff)  // PointerToRawData
		putU32(s.relocOff)
		putU32(0) // pointer to line numbers
		putU16(s.nreloc)
		putU16(0) // number of line numbers
		putU32(s.char)
	}
}

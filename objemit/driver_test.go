package objemit_test

import (
	"reflect"
	"testing"

	"github.com/xyproto/vibeobj/internal/target"
	"github.com/xyproto/vibeobj/objemit"
	"github.com/xyproto/vibeobj/objemit/container"
	"github.com/xyproto/vibeobj/objemit/objtest"
)

// recordedCall captures one container.Handle method invocation so tests can
// assert on the exact directive sequence the Driver produced (§8's
// end-to-end scenarios), mirroring the teacher's own assertion style of
// comparing recorded state against expectations in relocation_test.go.
type recordedCall struct {
	op   string
	args []any
}

// fakeHandle is an in-memory container.Handle recorder.
type fakeHandle struct {
	calls  []recordedCall
	closed int
}

func (h *fakeHandle) record(op string, args ...any) {
	h.calls = append(h.calls, recordedCall{op: op, args: args})
}

func (h *fakeHandle) SwitchSection(name string) { h.record("switch_section", name) }
func (h *fakeHandle) EmitAlignment(n int)       { h.record("emit_alignment", n) }
func (h *fakeHandle) EmitBlob(data []byte) {
	cp := append([]byte{}, data...)
	h.record("emit_blob", cp)
}
func (h *fakeHandle) EmitSymbolDef(name string) { h.record("emit_symbol_def", name) }
func (h *fakeHandle) EmitSymbolRef(name string, size int, pcRelative bool, delta int64) {
	h.record("emit_symbol_ref", name, size, pcRelative, delta)
}
func (h *fakeHandle) EmitWinFrameInfo(method string, start, end uint32, blob []byte, personality string, lsda []byte) {
	h.record("emit_win_frame_info", method, start, end)
}
func (h *fakeHandle) EmitCFIStart(offset uint32)           { h.record("cfi_start", offset) }
func (h *fakeHandle) EmitCFIEnd(offset uint32)             { h.record("cfi_end", offset) }
func (h *fakeHandle) EmitCFIBlob(offset uint32, r [8]byte) { h.record("cfi_blob", offset, r) }
func (h *fakeHandle) EmitDebugFileInfo(names []string)     { h.record("debug_file_info", names) }
func (h *fakeHandle) EmitDebugLoc(offset uint32, fileID int, line, col int) {
	h.record("debug_loc", offset, fileID, line, col)
}
func (h *fakeHandle) FlushDebugLocs(method string, size uint32) {
	h.record("flush_debug_locs", method, size)
}
func (h *fakeHandle) Close() error {
	h.closed++
	return nil
}

type fakeBackend struct{ handle *fakeHandle }

func (b *fakeBackend) Init(path string) (container.Handle, error) {
	return b.handle, nil
}

func ops(calls []recordedCall) []string {
	var out []string
	for _, c := range calls {
		out = append(out, c.op)
	}
	return out
}

func newLinuxFactory() *objtest.Factory {
	return objtest.NewFactory(target.New(target.ArchX86_64, target.OSLinux))
}

func newOSXFactory() *objtest.Factory {
	return objtest.NewFactory(target.New(target.ArchX86_64, target.OSDarwin))
}

// TestEmitObject_EmptyNode covers §8 scenario 1.
func TestEmitObject_EmptyNode(t *testing.T) {
	h := &fakeHandle{}
	node := &objtest.Node{NodeName: "foo", NodeSection: "text", Align: 1,
		Symbols: []objemit.DefinedSymbol{{Name: "foo", Offset: 0}}}

	f := newLinuxFactory()
	if err := objemit.EmitObject("out.o", []objemit.Node{node}, f, &fakeBackend{handle: h}); err != nil {
		t.Fatalf("EmitObject: %v", err)
	}

	got := ops(h.calls)
	want := []string{"switch_section", "emit_alignment", "emit_symbol_def", "switch_section"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	if h.calls[2].args[0] != "foo" {
		t.Errorf("symbol name = %v, want foo", h.calls[2].args[0])
	}
	if h.closed != 1 {
		t.Errorf("closed %d times, want 1", h.closed)
	}
}

// TestEmitObject_EmptyNodeOSX covers §8 scenario 1's OSX underscore variant.
func TestEmitObject_EmptyNodeOSX(t *testing.T) {
	h := &fakeHandle{}
	node := &objtest.Node{NodeName: "foo", NodeSection: "text", Align: 1,
		Symbols: []objemit.DefinedSymbol{{Name: "foo", Offset: 0}}}

	if err := objemit.EmitObject("out.o", []objemit.Node{node}, newOSXFactory(), &fakeBackend{handle: h}); err != nil {
		t.Fatalf("EmitObject: %v", err)
	}
	if h.calls[2].args[0] != "_foo" {
		t.Errorf("symbol name = %v, want _foo", h.calls[2].args[0])
	}
}

// TestEmitObject_REL32 covers §8 scenario 2.
func TestEmitObject_REL32(t *testing.T) {
	h := &fakeHandle{}
	data := []byte{0x90, 0, 0, 0, 0, 0x90}
	node := &objtest.Node{NodeName: "n", NodeSection: "text", Align: 1, Bytes: data,
		Symbols: []objemit.DefinedSymbol{{Name: "n", Offset: 0}},
		Relocs:  []objemit.Relocation{{Offset: 1, Kind: objemit.RelocREL32, TargetSymbol: "bar", Delta: -4}},
	}

	if err := objemit.EmitObject("out.o", []objemit.Node{node}, newLinuxFactory(), &fakeBackend{handle: h}); err != nil {
		t.Fatalf("EmitObject: %v", err)
	}

	var blobBytes [][]byte
	var refArgs []any
	for _, c := range h.calls {
		switch c.op {
		case "emit_blob":
			blobBytes = append(blobBytes, c.args[0].([]byte))
		case "emit_symbol_ref":
			refArgs = c.args
		}
	}
	if len(blobBytes) != 2 || blobBytes[0][0] != 0x90 || blobBytes[1][0] != 0x90 {
		t.Fatalf("blob bytes = %v, want two 0x90 bytes", blobBytes)
	}
	if refArgs == nil {
		t.Fatal("no emit_symbol_ref recorded")
	}
	if refArgs[0] != "bar" || refArgs[1] != 4 || refArgs[2] != true || refArgs[3] != int64(-4) {
		t.Errorf("emit_symbol_ref args = %v, want [bar 4 true -4]", refArgs)
	}
}

// TestEmitObject_ABS64 covers §8 scenario 6.
func TestEmitObject_ABS64(t *testing.T) {
	h := &fakeHandle{}
	data := make([]byte, 10)
	node := &objtest.Node{NodeName: "n", NodeSection: "text", Align: 1, Bytes: data,
		Symbols: []objemit.DefinedSymbol{{Name: "n", Offset: 0}},
		Relocs:  []objemit.Relocation{{Offset: 2, Kind: objemit.RelocABS64, TargetSymbol: "sym", Delta: 0}},
	}

	if err := objemit.EmitObject("out.o", []objemit.Node{node}, newLinuxFactory(), &fakeBackend{handle: h}); err != nil {
		t.Fatalf("EmitObject: %v", err)
	}

	var nLiteral int
	var refArgs []any
	for _, c := range h.calls {
		switch c.op {
		case "emit_blob":
			nLiteral++
		case "emit_symbol_ref":
			refArgs = c.args
		}
	}
	if nLiteral != 2 {
		t.Errorf("literal bytes emitted = %d, want 2", nLiteral)
	}
	if refArgs[0] != "sym" || refArgs[1] != 8 || refArgs[2] != false || refArgs[3] != int64(0) {
		t.Errorf("emit_symbol_ref args = %v, want [sym 8 false 0]", refArgs)
	}
}

// TestEmitObject_AdjacentUnixFrames covers §8 scenario 3.
func TestEmitObject_AdjacentUnixFrames(t *testing.T) {
	h := &fakeHandle{}
	data := make([]byte, 32)
	recA := [8]byte{0}
	recB := [8]byte{0}
	node := &objtest.Node{NodeName: "n", NodeSection: "text", Align: 1, Bytes: data,
		Symbols: []objemit.DefinedSymbol{{Name: "n", Offset: 0}},
		Frames: []objemit.FrameInfo{
			{Start: 0, End: 16, Blob: recA[:]},
			{Start: 16, End: 32, Blob: recB[:]},
		},
	}

	if err := objemit.EmitObject("out.o", []objemit.Node{node}, newLinuxFactory(), &fakeBackend{handle: h}); err != nil {
		t.Fatalf("EmitObject: %v", err)
	}

	var at16 []string
	for _, c := range h.calls {
		if c.op == "cfi_end" || c.op == "cfi_start" || c.op == "cfi_blob" {
			if off, ok := c.args[0].(uint32); ok && off == 16 {
				at16 = append(at16, c.op)
			}
		}
	}
	want := []string{"cfi_end", "cfi_start", "cfi_blob"}
	if !reflect.DeepEqual(at16, want) {
		t.Fatalf("ops at offset 16 = %v, want %v", at16, want)
	}
}

// TestEmitObject_AlternateName covers §8 scenario 4.
func TestEmitObject_AlternateName(t *testing.T) {
	h := &fakeHandle{}
	node := &objtest.Node{NodeName: "Foo", NodeSection: "text", Align: 1, Bytes: make([]byte, 8),
		Symbols: []objemit.DefinedSymbol{{Name: "Foo", Offset: 8}},
	}
	f := newLinuxFactory().WithAlternate("Foo", "Foo$entry")

	if err := objemit.EmitObject("out.o", []objemit.Node{node}, f, &fakeBackend{handle: h}); err != nil {
		t.Fatalf("EmitObject: %v", err)
	}

	var names []string
	for _, c := range h.calls {
		if c.op == "emit_symbol_def" {
			names = append(names, c.args[0].(string))
		}
	}
	want := []string{"Foo", "Foo$entry"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("symbol defs = %v, want %v", names, want)
	}
}

// TestEmitObject_DebugInfoSuppressedOnLinux covers §8 scenario 5.
func TestEmitObject_DebugInfoSuppressedOnLinux(t *testing.T) {
	h := &fakeHandle{}
	node := &objtest.Node{NodeName: "n", NodeSection: "text", Align: 1, Bytes: make([]byte, 4),
		Symbols: []objemit.DefinedSymbol{{Name: "n", Offset: 0}},
		Locs:    []objemit.DebugLocInfo{{NativeOffset: 0, FileName: "a.go", Line: 1, Col: 1}},
	}

	if err := objemit.EmitObject("out.o", []objemit.Node{node}, newLinuxFactory(), &fakeBackend{handle: h}); err != nil {
		t.Fatalf("EmitObject: %v", err)
	}

	for _, c := range h.calls {
		if c.op == "debug_file_info" || c.op == "debug_loc" || c.op == "flush_debug_locs" {
			t.Errorf("unexpected debug call on Linux target: %s", c.op)
		}
	}
}

// TestEmitObject_DebugInfoOnWindows exercises the one target that does
// support debug lines (§4.5 phase 1/2, §10.5).
func TestEmitObject_DebugInfoOnWindows(t *testing.T) {
	h := &fakeHandle{}
	node := &objtest.Node{NodeName: "n", NodeSection: "text", Align: 1, Bytes: make([]byte, 4),
		Symbols: []objemit.DefinedSymbol{{Name: "n", Offset: 0}},
		Locs:    []objemit.DebugLocInfo{{NativeOffset: 0, FileName: "a.go", Line: 1, Col: 1}},
	}
	f := objtest.NewFactory(target.New(target.ArchX86_64, target.OSWindows))

	if err := objemit.EmitObject("out.o", []objemit.Node{node}, f, &fakeBackend{handle: h}); err != nil {
		t.Fatalf("EmitObject: %v", err)
	}

	var sawFileInfo, sawLoc, sawFlush bool
	for _, c := range h.calls {
		switch c.op {
		case "debug_file_info":
			sawFileInfo = true
		case "debug_loc":
			sawLoc = true
		case "flush_debug_locs":
			sawFlush = true
		}
	}
	if !sawFileInfo || !sawLoc || !sawFlush {
		t.Fatalf("expected debug_file_info, debug_loc, flush_debug_locs on Windows target")
	}
}

func TestEmitObject_UnsupportedRelocKind(t *testing.T) {
	h := &fakeHandle{}
	node := &objtest.Node{NodeName: "n", NodeSection: "text", Align: 1, Bytes: make([]byte, 4),
		Symbols: []objemit.DefinedSymbol{{Name: "n", Offset: 0}},
		Relocs:  []objemit.Relocation{{Offset: 0, Kind: objemit.RelocKind(99), TargetSymbol: "x"}},
	}

	err := objemit.EmitObject("out.o", []objemit.Node{node}, newLinuxFactory(), &fakeBackend{handle: h})
	if err == nil {
		t.Fatal("expected error for unsupported relocation kind")
	}
	ee, ok := err.(*objemit.EmitError)
	if !ok || ee.Kind != objemit.KindUnsupportedReloc {
		t.Fatalf("err = %v, want *objemit.EmitError{Kind: objemit.KindUnsupportedReloc}", err)
	}
}

func TestEmitObject_MalformedCFIBlobIsDistinctFromOverlap(t *testing.T) {
	h := &fakeHandle{}
	node := &objtest.Node{NodeName: "n", NodeSection: "text", Align: 1, Bytes: make([]byte, 16),
		Symbols: []objemit.DefinedSymbol{{Name: "n", Offset: 0}},
		Frames: []objemit.FrameInfo{
			{Start: 0, End: 10, Blob: make([]byte, 5)}, // not a multiple of 8
		},
	}

	err := objemit.EmitObject("out.o", []objemit.Node{node}, newLinuxFactory(), &fakeBackend{handle: h})
	if err == nil {
		t.Fatal("expected error for malformed CFI blob")
	}
	ee, ok := err.(*objemit.EmitError)
	if !ok || ee.Kind != objemit.KindMalformedCFI {
		t.Fatalf("err = %v, want *objemit.EmitError{Kind: objemit.KindMalformedCFI}", err)
	}
}

func TestEmitObject_FrameOverlapIsFatal(t *testing.T) {
	h := &fakeHandle{}
	node := &objtest.Node{NodeName: "n", NodeSection: "text", Align: 1, Bytes: make([]byte, 16),
		Symbols: []objemit.DefinedSymbol{{Name: "n", Offset: 0}},
		Frames: []objemit.FrameInfo{
			{Start: 0, End: 10, Blob: make([]byte, 8)},
			{Start: 5, End: 15, Blob: make([]byte, 8)},
		},
	}

	err := objemit.EmitObject("out.o", []objemit.Node{node}, newLinuxFactory(), &fakeBackend{handle: h})
	if err == nil {
		t.Fatal("expected error for overlapping frames")
	}
	ee, ok := err.(*objemit.EmitError)
	if !ok || ee.Kind != objemit.KindFrameOverlap {
		t.Fatalf("err = %v, want *objemit.EmitError{Kind: objemit.KindFrameOverlap}", err)
	}
}

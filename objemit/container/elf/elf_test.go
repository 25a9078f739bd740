package elf_test

import (
	goelf "debug/elf"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/xyproto/vibeobj/internal/target"
	"github.com/xyproto/vibeobj/objemit"
	"github.com/xyproto/vibeobj/objemit/container/elf"
	"github.com/xyproto/vibeobj/objemit/objtest"
)

func emit(t *testing.T, nodes []objemit.Node, fac objemit.Factory) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.o")
	b := elf.NewBackend(target.ArchX86_64, false)
	if err := objemit.EmitObject(path, nodes, fac, b); err != nil {
		t.Fatalf("EmitObject: %v", err)
	}
	return path
}

func TestELFMagicAndClass(t *testing.T) {
	fac := objtest.NewFactory(target.New(target.ArchX86_64, target.OSLinux))
	n := &objtest.Node{NodeName: "f", NodeSection: "text", Bytes: []byte{0x90}}
	path := emit(t, []objemit.Node{n}, fac)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte{0x7f, 'E', 'L', 'F'}) {
		t.Fatal("missing ELF magic")
	}
	if raw[4] != 2 {
		t.Errorf("expected ELFCLASS64, got %d", raw[4])
	}
	if raw[5] != 1 {
		t.Errorf("expected little-endian, got %d", raw[5])
	}
}

func TestELFRoundTripSymbolsAndRelocs(t *testing.T) {
	fac := objtest.NewFactory(target.New(target.ArchX86_64, target.OSLinux))
	n := &objtest.Node{
		NodeName:    "add_one",
		NodeSection: "text",
		Bytes:       []byte{0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90},
		Symbols:     []objemit.DefinedSymbol{{Name: "add_one", Offset: 0}},
		Relocs: []objemit.Relocation{
			{Offset: 4, Kind: objemit.RelocREL32, TargetSymbol: "helper"},
		},
	}
	path := emit(t, []objemit.Node{n}, fac)

	f, err := goelf.Open(path)
	if err != nil {
		t.Fatalf("debug/elf could not parse our own output: %v", err)
	}
	defer f.Close()

	if f.Type != goelf.ET_REL {
		t.Errorf("expected ET_REL, got %v", f.Type)
	}

	syms, err := f.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	var found, helper bool
	for _, s := range syms {
		if s.Name == "add_one" {
			found = true
		}
		if s.Name == "helper" {
			helper = true
		}
	}
	if !found {
		t.Error("defined symbol add_one missing from symtab")
	}
	if !helper {
		t.Error("referenced-but-undefined symbol helper missing from symtab")
	}

	textSec := f.Section(".text")
	if textSec == nil {
		t.Fatal("missing .text section")
	}
	rels, err := f.Section(".rela.text").Data()
	if err != nil || len(rels) == 0 {
		t.Errorf("expected a non-empty .rela.text, data=%v err=%v", rels, err)
	}
}

func TestELFOSXUnderscorePrefixNotAppliedOnLinux(t *testing.T) {
	fac := objtest.NewFactory(target.New(target.ArchX86_64, target.OSLinux))
	n := &objtest.Node{NodeName: "n", NodeSection: "text", Bytes: []byte{0x90},
		Symbols: []objemit.DefinedSymbol{{Name: "my_func", Offset: 0}}}
	path := emit(t, []objemit.Node{n}, fac)

	f, err := goelf.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	syms, _ := f.Symbols()
	for _, s := range syms {
		if s.Name == "_my_func" {
			t.Error("Linux target must not underscore-prefix symbol names")
		}
	}
}

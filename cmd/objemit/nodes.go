package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xyproto/vibeobj/internal/target"
	"github.com/xyproto/vibeobj/objemit"
	"github.com/xyproto/vibeobj/objemit/objtest"
)

// jsonFile is the on-disk shape of the -nodes.json input: a flat node list
// plus a symbol->alternate-name table, grounded on the teacher toolchain's
// plain-struct JSON config style (none of the JIT's own data formats apply
// here, since the node description is new surface this command introduces).
type jsonFile struct {
	Alternates map[string]string `json:"alternates"`
	Nodes      []jsonNode        `json:"nodes"`
}

type jsonNode struct {
	Name      string           `json:"name"`
	Section   string           `json:"section"`
	Alignment int              `json:"alignment"`
	Data      []byte           `json:"data"`
	Symbols   []jsonSymbol     `json:"symbols"`
	Relocs    []jsonRelocation `json:"relocations"`
	Frames    []jsonFrame      `json:"frames"`
	DebugLocs []jsonDebugLoc   `json:"debug_locs"`
	Skip      bool             `json:"skip"`
}

type jsonSymbol struct {
	Name   string `json:"name"`
	Offset uint32 `json:"offset"`
}

type jsonRelocation struct {
	Offset uint32 `json:"offset"`
	Kind   string `json:"kind"` // "ABS64" or "REL32"
	Target string `json:"target"`
	Delta  int64  `json:"delta"`
}

type jsonFrame struct {
	Start       uint32 `json:"start"`
	End         uint32 `json:"end"`
	Blob        []byte `json:"blob"`
	Personality string `json:"personality"`
	LSDA        []byte `json:"lsda"`
}

type jsonDebugLoc struct {
	Offset uint32 `json:"offset"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Col    int    `json:"col"`
}

func loadNodes(path string, t target.Target) ([]objemit.Node, objemit.Factory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var jf jsonFile
	if err := json.Unmarshal(raw, &jf); err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	factory := objtest.NewFactory(t)
	for sym, alt := range jf.Alternates {
		factory.WithAlternate(sym, alt)
	}

	nodes := make([]objemit.Node, 0, len(jf.Nodes))
	for _, jn := range jf.Nodes {
		syms := make([]objemit.DefinedSymbol, 0, len(jn.Symbols))
		for _, s := range jn.Symbols {
			syms = append(syms, objemit.DefinedSymbol{Name: s.Name, Offset: s.Offset})
		}
		relocs := make([]objemit.Relocation, 0, len(jn.Relocs))
		for _, r := range jn.Relocs {
			kind, err := parseRelocKind(r.Kind)
			if err != nil {
				return nil, nil, fmt.Errorf("node %q: %w", jn.Name, err)
			}
			relocs = append(relocs, objemit.Relocation{
				Offset: r.Offset, Kind: kind, TargetSymbol: r.Target, Delta: r.Delta,
			})
		}
		frames := make([]objemit.FrameInfo, 0, len(jn.Frames))
		for _, fr := range jn.Frames {
			frames = append(frames, objemit.FrameInfo{
				Start: fr.Start, End: fr.End, Blob: fr.Blob,
				Personality: fr.Personality, LSDA: fr.LSDA,
			})
		}
		locs := make([]objemit.DebugLocInfo, 0, len(jn.DebugLocs))
		for _, l := range jn.DebugLocs {
			locs = append(locs, objemit.DebugLocInfo{
				NativeOffset: l.Offset, FileName: l.File, Line: l.Line, Col: l.Col,
			})
		}

		nodes = append(nodes, &objtest.Node{
			NodeName:    jn.Name,
			NodeSection: jn.Section,
			Align:       jn.Alignment,
			Bytes:       jn.Data,
			Symbols:     syms,
			Relocs:      relocs,
			Frames:      frames,
			Locs:        locs,
			Skip:        jn.Skip,
		})
	}
	return nodes, factory, nil
}

func parseRelocKind(s string) (objemit.RelocKind, error) {
	switch s {
	case "ABS64":
		return objemit.RelocABS64, nil
	case "REL32":
		return objemit.RelocREL32, nil
	default:
		return 0, fmt.Errorf("unsupported relocation kind %q", s)
	}
}

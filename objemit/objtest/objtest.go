// Package objtest provides small in-memory objemit.Node/Factory fixtures,
// grounded on the teacher toolchain's ExecutableBuilder test harness in
// relocation_test.go, adapted from "build one fake compiled program" to
// "describe one node plainly enough for a table-driven test."
package objtest

import (
	"github.com/xyproto/vibeobj/internal/target"
	"github.com/xyproto/vibeobj/objemit"
)

// Node is a plain, mutable implementation of objemit.Node for tests and the
// CLI's JSON node description.
type Node struct {
	NodeName    string
	NodeSection string
	Align       int
	Bytes       []byte
	Symbols     []objemit.DefinedSymbol
	Relocs      []objemit.Relocation
	Frames      []objemit.FrameInfo
	Locs        []objemit.DebugLocInfo
	Skip        bool
}

func (n *Node) Name() string                            { return n.NodeName }
func (n *Node) Section() string                         { return n.NodeSection }
func (n *Node) Alignment() int                          { return n.Align }
func (n *Node) ShouldSkip() bool                        { return n.Skip }
func (n *Node) Data(objemit.Factory) []byte             { return n.Bytes }
func (n *Node) DefinedSymbols() []objemit.DefinedSymbol { return n.Symbols }
func (n *Node) Relocations() []objemit.Relocation       { return n.Relocs }
func (n *Node) FrameInfos() []objemit.FrameInfo         { return n.Frames }
func (n *Node) DebugLocs() []objemit.DebugLocInfo       { return n.Locs }

// Factory is a plain implementation of objemit.Factory backed by a fixed
// target and a static alternate-name table.
type Factory struct {
	T   target.Target
	Alt map[string]string
}

func NewFactory(t target.Target) *Factory {
	return &Factory{T: t, Alt: make(map[string]string)}
}

func (f *Factory) Target() target.Target { return f.T }

func (f *Factory) AlternateName(symbol string) (string, bool) {
	alt, ok := f.Alt[symbol]
	return alt, ok
}

// WithAlternate registers an alternate name for symbol and returns f for
// chaining in test setup.
func (f *Factory) WithAlternate(symbol, alt string) *Factory {
	f.Alt[symbol] = alt
	return f
}

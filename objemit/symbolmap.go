package objemit

import "github.com/xyproto/vibeobj/internal/target"

// symbolMap is the per-node offset → ordered emit-names index (§4.2),
// grounded on the teacher's plt_got.go/dynlib.go "one slot, many names"
// alias handling, generalized from PLT stub aliasing to arbitrary symbol
// aliasing via Factory.AlternateName.
type symbolMap struct {
	names map[uint32][]string
	order []uint32
}

func newSymbolMap() *symbolMap {
	return &symbolMap{names: make(map[uint32][]string)}
}

// build populates the map from a node's defined symbols, applying the
// platform name-mangling rule and appending any alternate name at the same
// offset immediately after its primary (§4.2, §8 symbol-ordering property).
func (m *symbolMap) build(syms []DefinedSymbol, f Factory) {
	mangle := platformName(f.Target())
	for _, s := range syms {
		m.add(s.Offset, mangle(s.Name))
		if alt, ok := f.AlternateName(s.Name); ok {
			m.add(s.Offset, mangle(alt))
		}
	}
}

func (m *symbolMap) add(offset uint32, name string) {
	if _, ok := m.names[offset]; !ok {
		m.order = append(m.order, offset)
	}
	m.names[offset] = append(m.names[offset], name)
}

// at returns the names registered at offset, in insertion order.
func (m *symbolMap) at(offset uint32) []string {
	return m.names[offset]
}

// platformName returns the mangling function for t: OSX prepends a leading
// underscore (the System V C calling-convention rule); Linux and Windows
// pass the name through unchanged.
func platformName(t target.Target) func(string) string {
	if t.NeedsUnderscorePrefix() {
		return func(s string) string { return "_" + s }
	}
	return func(s string) string { return s }
}

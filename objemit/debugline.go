package objemit

import "github.com/xyproto/vibeobj/objemit/container"

// debugFileTable is the global filename→id index built once per emission
// call, in first-seen order, across every node (§3, §4.5 phase 1).
type debugFileTable struct {
	ids   map[string]int
	names []string
}

func newDebugFileTable() *debugFileTable {
	return &debugFileTable{ids: make(map[string]int)}
}

// build walks every node's debug locs once, assigning sequential ids. On
// targets that don't support debug lines (§4.5: everything but Windows, an
// intentional gap per §9), the table is left empty regardless of what the
// nodes carry.
func (t *debugFileTable) build(nodes []Node, f Factory) {
	if !f.Target().SupportsDebugLines() {
		return
	}
	for _, n := range nodes {
		for _, loc := range n.DebugLocs() {
			if _, ok := t.ids[loc.FileName]; !ok {
				t.ids[loc.FileName] = len(t.names)
				t.names = append(t.names, loc.FileName)
			}
		}
	}
}

func (t *debugFileTable) empty() bool { return len(t.names) == 0 }

// debugLocMap is the per-node offset→DebugLocInfo map (§4.5 phase 2).
type debugLocMap struct {
	table *debugFileTable
	locs  map[uint32]DebugLocInfo
	any   bool
}

func newDebugLocMap(table *debugFileTable) *debugLocMap {
	return &debugLocMap{table: table}
}

func (m *debugLocMap) build(locs []DebugLocInfo) {
	m.locs = make(map[uint32]DebugLocInfo, len(locs))
	m.any = false
	for _, l := range locs {
		m.locs[l.NativeOffset] = l
	}
}

// emitAt emits the debug-line record registered at offset o, if any, using
// the global file id for its filename.
func (m *debugLocMap) emitAt(o uint32, h container.Handle) {
	loc, ok := m.locs[o]
	if !ok {
		return
	}
	fileID := m.table.ids[loc.FileName]
	h.EmitDebugLoc(o, fileID, loc.Line, loc.Col)
	m.any = true
}

// flush emits flush_debug_locs iff any record was emitted for this node
// (§4.5 phase 2), then clears the per-node map.
func (m *debugLocMap) flush(nodeName string, size uint32, h container.Handle) {
	if m.any {
		h.FlushDebugLocs(nodeName, size)
	}
	m.locs = nil
	m.any = false
}

package objemit

import "fmt"

// relocWidth is the fixed {kind -> (width, pc_relative)} table (§4.3). Any
// relocation kind outside this table is a fatal "not implemented" error —
// there is no generic mechanism, by design.
func relocWidth(k RelocKind) (width int, pcRelative bool, err error) {
	switch k {
	case RelocABS64:
		return 8, false, nil
	case RelocREL32:
		return 4, true, nil
	default:
		return 0, false, fmt.Errorf("objemit: unsupported relocation kind %v", k)
	}
}

// relocationCursor walks a node's relocation array synchronized against the
// byte index the Driver is currently at (§4.3). Relocations must already be
// sorted strictly ascending by offset per the ObjectNode invariant (§3); the
// cursor does not re-sort.
type relocationCursor struct {
	relocs []Relocation
	next   int
}

func newRelocationCursor(relocs []Relocation) *relocationCursor {
	return &relocationCursor{relocs: relocs}
}

// at reports the relocation starting exactly at offset i, if any, advancing
// past it so a later call never returns the same entry twice.
func (c *relocationCursor) at(i uint32) (Relocation, bool) {
	if c.next >= len(c.relocs) {
		return Relocation{}, false
	}
	r := c.relocs[c.next]
	if r.Offset != i {
		return Relocation{}, false
	}
	c.next++
	return r, true
}

package coff

import "github.com/xyproto/vibeobj/objemit/container/internal/lewriter"

// buildUnwindSection serializes the Windows UNWIND_INFO blobs (§4.4) and the
// debug-line records (§4.5) this Handle recorded into one auxiliary,
// self-describing section. The real .pdata/.xdata/CodeView encoding is
// delegated to the native container library this backend stands in for
// (SPEC_FULL.md §10.5); what's preserved here is exactly what the Driver
// chose to emit, in the order it chose to emit it.
func buildUnwindSection(frames []winFrame, debugFiles []string, locs []debugLoc, flushed []flushedMethod) []byte {
	if len(frames) == 0 && len(debugFiles) == 0 {
		return nil
	}
	w := lewriter.New()

	w.U32(uint32(len(frames)))
	for _, f := range frames {
		w.CString(f.method)
		w.U32(f.start)
		w.U32(f.end)
		w.U32(uint32(len(f.blob)))
		w.Bytes(f.blob)
		w.CString(f.personality)
		w.U32(uint32(len(f.lsda)))
		w.Bytes(f.lsda)
	}

	w.U32(uint32(len(debugFiles)))
	for _, name := range debugFiles {
		w.CString(name)
	}

	w.U32(uint32(len(locs)))
	for _, l := range locs {
		w.CString(l.section)
		w.U32(l.offset)
		w.U32(uint32(l.fileID))
		w.U32(uint32(l.line))
		w.U32(uint32(l.col))
	}

	w.U32(uint32(len(flushed)))
	for _, f := range flushed {
		w.CString(f.method)
		w.U32(f.size)
	}

	return w.Final()
}

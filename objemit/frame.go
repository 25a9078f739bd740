package objemit

import (
	"fmt"

	"github.com/xyproto/vibeobj/objemit/container"
)

const cfiRecordSize = 8

// frameError tags a unixFrameEngine failure with the §7 error kind it
// belongs to, so the driver can report KindMalformedCFI and
// KindFrameOverlap as the distinct fatal kinds they are rather than
// collapsing every frame-engine failure into one.
type frameError struct {
	kind ErrorKind
	err  error
}

func (e *frameError) Error() string { return e.err.Error() }
func (e *frameError) Unwrap() error { return e.err }

// unixFrameEngine implements the Unix CFI strategy (§4.4): a pre-pass over
// a node's FrameInfos builds three offset-indexed maps, then per-offset
// emission follows the fixed end-before-start-before-blobs order so that a
// frame ending exactly where the next begins is handled unambiguously.
type unixFrameEngine struct {
	starts map[uint32]bool
	ends   map[uint32]bool
	blobs  map[uint32][][8]byte

	open bool
}

func newUnixFrameEngine() *unixFrameEngine {
	return &unixFrameEngine{
		starts: make(map[uint32]bool),
		ends:   make(map[uint32]bool),
		blobs:  make(map[uint32][][8]byte),
	}
}

// build resets the engine and pre-passes frames, rebasing each CFI record's
// code offset as blob[j] + frame.Start (§4.4, §8 CFI-offset-rebase
// property). Overlapping [start,end) intervals and malformed blob lengths
// are both fatal programmer errors — the upstream code generator is broken.
func (e *unixFrameEngine) build(frames []FrameInfo) error {
	e.starts = make(map[uint32]bool)
	e.ends = make(map[uint32]bool)
	e.blobs = make(map[uint32][][8]byte)
	e.open = false

	sorted := append([]FrameInfo{}, frames...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i].Start < sorted[j].End && sorted[j].Start < sorted[i].End {
				return &frameError{kind: KindFrameOverlap, err: fmt.Errorf(
					"objemit: overlapping frame intervals [%d,%d) and [%d,%d)",
					sorted[i].Start, sorted[i].End, sorted[j].Start, sorted[j].End)}
			}
		}
	}

	for _, fr := range sorted {
		if fr.Start >= fr.End {
			return &frameError{kind: KindMalformedCFI, err: fmt.Errorf(
				"objemit: frame interval [%d,%d) is not increasing", fr.Start, fr.End)}
		}
		if len(fr.Blob)%cfiRecordSize != 0 {
			return &frameError{kind: KindMalformedCFI, err: fmt.Errorf(
				"objemit: CFI blob length %d is not a multiple of %d", len(fr.Blob), cfiRecordSize)}
		}
		e.starts[fr.Start] = true
		e.ends[fr.End] = true
		for j := 0; j+cfiRecordSize <= len(fr.Blob); j += cfiRecordSize {
			var rec [8]byte
			copy(rec[:], fr.Blob[j:j+cfiRecordSize])
			codeOffset := uint32(rec[0]) + fr.Start
			e.blobs[codeOffset] = append(e.blobs[codeOffset], rec)
		}
	}
	return nil
}

// emitAt runs the fixed end/start/blobs protocol for offset o, enforcing
// the frame-open invariant (§4.4, §8 frame-open-discipline property).
func (e *unixFrameEngine) emitAt(o uint32, h container.Handle) error {
	if e.ends[o] {
		if !e.open {
			return &frameError{kind: KindMalformedCFI, err: fmt.Errorf(
				"objemit: cfi_end at offset %d with no frame open", o)}
		}
		h.EmitCFIEnd(o)
		e.open = false
	}
	if e.starts[o] {
		if e.open {
			return &frameError{kind: KindMalformedCFI, err: fmt.Errorf(
				"objemit: cfi_start at offset %d while a frame is already open", o)}
		}
		h.EmitCFIStart(o)
		e.open = true
	}
	for _, rec := range e.blobs[o] {
		if !e.open {
			return &frameError{kind: KindMalformedCFI, err: fmt.Errorf(
				"objemit: cfi_blob at offset %d with no frame open", o)}
		}
		h.EmitCFIBlob(o, rec)
	}
	return nil
}

// frameErrorKind recovers the §7 error kind a unixFrameEngine failure was
// tagged with, defaulting to KindFrameOverlap for any error that didn't
// come from this engine (defensive; every current caller only ever passes
// a *frameError here).
func frameErrorKind(err error) ErrorKind {
	if fe, ok := err.(*frameError); ok {
		return fe.kind
	}
	return KindFrameOverlap
}

// emitWindowsFrames emits one opaque win_frame_info record per FrameInfo,
// with no interleaving against data bytes (§4.4 Windows strategy).
func emitWindowsFrames(nodeName string, frames []FrameInfo, h container.Handle) {
	for _, fr := range frames {
		h.EmitWinFrameInfo(nodeName, fr.Start, fr.End, fr.Blob, fr.Personality, fr.LSDA)
	}
}

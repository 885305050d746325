// Package fmp4 parses a live fragmented-MP4 byte stream (as emitted by
// ffmpeg's "frag_keyframe+empty_moov+default_base_moof" muxer) into a
// one-shot initialization header and a sequence of self-contained
// moof+mdat fragments.
package fmp4

import (
	"encoding/binary"
	"errors"
)

// maxExtendedAtomSize caps the 64-bit extended atom size as a sanity
// check against a desynchronized or corrupt stream.
const maxExtendedAtomSize = 100 * 1024 * 1024

// ErrDesync is returned (never fatally) when an atom header looks
// corrupt; the framer drops the remainder of the current read and
// waits for the next Write call to attempt to resynchronize.
var ErrDesync = errors.New("fmp4: framer desynchronized")

// Sink receives the framer's output. Header is called exactly once, the
// first time a complete moof is observed, with the accumulated bytes
// that preceded it (ftyp+moov, in a well-formed stream). Fragment is
// called once per complete moof+mdat pair thereafter.
type Sink interface {
	Header(data []byte)
	Fragment(data []byte)
}

// Framer holds the incremental parsing state for a single stdout stream.
// It is not safe for concurrent use; the encoder supervisor owns exactly
// one Framer per transcoder and feeds it from a single reader goroutine.
type Framer struct {
	sink Sink

	acc []byte // bytes not yet resolved into atoms

	headerBuf      []byte // accumulating ftyp/moov/etc. before the first moof
	headerCaptured bool

	fragBuf []byte // accumulating moof..mdat for the in-progress fragment
}

// New returns a Framer that publishes to sink.
func New(sink Sink) *Framer {
	return &Framer{sink: sink}
}

// Write feeds a chunk of encoder stdout into the framer. It is valid to
// call Write with chunks of any size, including one byte at a time: the
// emitted fragments do not depend on how the input was split.
//
// A non-nil error (always ErrDesync) means the current read was
// abandoned after observing a corrupt atom header; the accumulation
// buffer is cleared, and the next Write starts fresh. This is logged by
// the caller, not treated as a fatal condition.
func (f *Framer) Write(chunk []byte) error {
	f.acc = append(f.acc, chunk...)

	for {
		atom, rest, ok, err := splitAtom(f.acc)
		if err != nil {
			f.acc = nil
			return err
		}
		if !ok {
			return nil
		}
		f.acc = rest
		f.consumeAtom(atom)
	}
}

// splitAtom attempts to split one complete atom off the front of buf. It
// returns ok=false if buf does not yet contain a complete atom (more
// input is needed). It returns an error if the atom header is corrupt.
func splitAtom(buf []byte) (atom, rest []byte, ok bool, err error) {
	if len(buf) < 8 {
		return nil, buf, false, nil
	}

	size := uint64(binary.BigEndian.Uint32(buf[0:4]))
	headerLen := 8

	if size == 1 {
		if len(buf) < 16 {
			return nil, buf, false, nil
		}
		size = binary.BigEndian.Uint64(buf[8:16])
		headerLen = 16
		if size > maxExtendedAtomSize {
			return nil, nil, false, ErrDesync
		}
	}

	if size < 8 {
		return nil, nil, false, ErrDesync
	}
	if size < uint64(headerLen) {
		return nil, nil, false, ErrDesync
	}

	if uint64(len(buf)) < size {
		return nil, buf, false, nil
	}

	return buf[:size], buf[size:], true, nil
}

func atomType(atom []byte) string {
	if len(atom) < 8 {
		return ""
	}
	return string(atom[4:8])
}

func (f *Framer) consumeAtom(atom []byte) {
	typ := atomType(atom)

	if !f.headerCaptured {
		if typ == "moof" {
			f.sink.Header(f.headerBuf)
			f.headerCaptured = true
			f.headerBuf = nil
			f.fragBuf = append([]byte(nil), atom...)
			return
		}
		f.headerBuf = append(f.headerBuf, atom...)
		return
	}

	switch {
	case typ == "moof" && len(f.fragBuf) > 0:
		f.sink.Fragment(f.fragBuf)
		f.fragBuf = append([]byte(nil), atom...)
	case typ == "moof" && len(f.fragBuf) == 0:
		f.fragBuf = append([]byte(nil), atom...)
	case len(f.fragBuf) == 0:
		// Between fragments with no start-of-fragment anchor: drop.
	default:
		// Anything between moof and mdat (e.g. sidx) is appended as
		// part of the fragment; only mdat closes it. Unverified against
		// encoders that insert extra boxes here.
		f.fragBuf = append(f.fragBuf, atom...)
		if typ == "mdat" {
			f.sink.Fragment(f.fragBuf)
			f.fragBuf = nil
		}
	}
}

package fmp4

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func atom(typ string, payload []byte) []byte {
	size := 8 + len(payload)
	buf := make([]byte, 8, size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(size))
	copy(buf[4:8], typ)
	buf = append(buf, payload...)
	return buf
}

type recorder struct {
	header    []byte
	headerSet bool
	fragments [][]byte
}

func (r *recorder) Header(data []byte) {
	r.header = append([]byte(nil), data...)
	r.headerSet = true
}

func (r *recorder) Fragment(data []byte) {
	r.fragments = append(r.fragments, append([]byte(nil), data...))
}

func buildStream(n int) (full []byte, wantHeader []byte, wantFrags [][]byte) {
	ftyp := atom("ftyp", []byte("isom"))
	moov := atom("moov", []byte("moovdata"))
	wantHeader = append(append([]byte(nil), ftyp...), moov...)
	full = append(full, wantHeader...)

	for i := 0; i < n; i++ {
		moof := atom("moof", []byte{byte(i)})
		mdat := atom("mdat", bytes.Repeat([]byte{byte(i)}, 10+i))
		frag := append(append([]byte(nil), moof...), mdat...)
		wantFrags = append(wantFrags, frag)
		full = append(full, frag...)
	}
	return full, wantHeader, wantFrags
}

func TestFramerWholeStreamAtOnce(t *testing.T) {
	full, wantHeader, wantFrags := buildStream(5)

	rec := &recorder{}
	fr := New(rec)
	if err := fr.Write(full); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !rec.headerSet || !bytes.Equal(rec.header, wantHeader) {
		t.Fatalf("header mismatch: got %v want %v", rec.header, wantHeader)
	}
	if len(rec.fragments) != len(wantFrags) {
		t.Fatalf("got %d fragments, want %d", len(rec.fragments), len(wantFrags))
	}
	for i := range wantFrags {
		if !bytes.Equal(rec.fragments[i], wantFrags[i]) {
			t.Fatalf("fragment %d mismatch", i)
		}
		if string(rec.fragments[i][4:8]) != "moof" {
			t.Fatalf("fragment %d does not start with moof", i)
		}
	}
}

func TestFramerArbitraryChunkSplits(t *testing.T) {
	full, wantHeader, wantFrags := buildStream(8)

	chunkSizes := []int{1, 2, 3, 7, 13, 64, 4096}
	for _, size := range chunkSizes {
		rec := &recorder{}
		fr := New(rec)
		for off := 0; off < len(full); off += size {
			end := off + size
			if end > len(full) {
				end = len(full)
			}
			if err := fr.Write(full[off:end]); err != nil {
				t.Fatalf("chunk size %d: Write: %v", size, err)
			}
		}

		if !bytes.Equal(rec.header, wantHeader) {
			t.Fatalf("chunk size %d: header mismatch", size)
		}
		if len(rec.fragments) != len(wantFrags) {
			t.Fatalf("chunk size %d: got %d fragments, want %d", size, len(rec.fragments), len(wantFrags))
		}
		for i := range wantFrags {
			if !bytes.Equal(rec.fragments[i], wantFrags[i]) {
				t.Fatalf("chunk size %d: fragment %d mismatch", size, i)
			}
		}
	}
}

func TestFramerRejectsUndersizedAtom(t *testing.T) {
	rec := &recorder{}
	fr := New(rec)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], 4) // size < 8
	copy(buf[4:8], "moof")
	if err := fr.Write(buf); err != ErrDesync {
		t.Fatalf("expected ErrDesync, got %v", err)
	}
}

func TestFramerRejectsOversizedExtendedAtom(t *testing.T) {
	rec := &recorder{}
	fr := New(rec)
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], 1) // extended size marker
	copy(buf[4:8], "mdat")
	binary.BigEndian.PutUint64(buf[8:16], maxExtendedAtomSize+1)
	if err := fr.Write(buf); err != ErrDesync {
		t.Fatalf("expected ErrDesync, got %v", err)
	}
}

func TestFramerDropsAtomsBetweenFragmentsWithNoAnchor(t *testing.T) {
	rec := &recorder{}
	fr := New(rec)

	ftyp := atom("ftyp", []byte("isom"))
	moof1 := atom("moof", []byte{1})
	mdat1 := atom("mdat", []byte("a"))
	stray := atom("styp", []byte("stray"))
	moof2 := atom("moof", []byte{2})
	mdat2 := atom("mdat", []byte("b"))

	var full []byte
	full = append(full, ftyp...)
	full = append(full, moof1...)
	full = append(full, mdat1...)
	full = append(full, stray...) // between fragments, no anchor: dropped
	full = append(full, moof2...)
	full = append(full, mdat2...)

	if err := fr.Write(full); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(rec.fragments) != 2 {
		t.Fatalf("got %d fragments, want 2", len(rec.fragments))
	}
}

package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RawText is the reference ObjectFormat: a UTF-8 payload prefixed by an
// 8-byte big-endian revision counter. It's enough to exercise real format
// operations end-to-end in tests (the spec.md §8 scenarios compare
// strings like "Alice"/"Alice A"/"Alice B" and need a real Revision for
// the use-latest resolution).
type RawText struct {
	objtype string
}

// NewRawText returns a RawText format bound to objtype.
func NewRawText(objtype string) *RawText {
	return &RawText{objtype: objtype}
}

func (r *RawText) Name() string    { return "rawtext" }
func (r *RawText) ObjType() string { return r.objtype }

// EncodeRawText builds a rawtext payload from text and a revision.
func EncodeRawText(text string, revision uint64) []byte {
	buf := make([]byte, 8+len(text))
	binary.BigEndian.PutUint64(buf[:8], revision)
	copy(buf[8:], text)
	return buf
}

// DecodeRawText splits a rawtext payload back into (text, revision).
func DecodeRawText(payload []byte) (string, uint64) {
	if len(payload) < 8 {
		return string(payload), 0
	}
	revision := binary.BigEndian.Uint64(payload[:8])
	return string(payload[8:]), revision
}

func (r *RawText) Compare(a, b []byte) CompareResult {
	textA, _ := DecodeRawText(a)
	textB, _ := DecodeRawText(b)
	if textA == textB {
		return Same
	}
	if similarText(textA, textB) {
		return Similar
	}
	return Mismatch
}

// similarText is a small heuristic: payloads whose common prefix covers at
// least half of the shorter text are flagged SIMILAR rather than an outright MISMATCH, enough to drive
// the literal "Alice"/"Alice A"/"Alice B" conflict scenario in spec.md §8.
func similarText(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	prefixLen := 0
	for prefixLen < len(a) && prefixLen < len(b) && a[prefixLen] == b[prefixLen] {
		prefixLen++
	}
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	return shorter > 0 && prefixLen*2 >= shorter
}

func (r *RawText) Copy(payload []byte) []byte {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out
}

func (r *RawText) Duplicate(payload []byte, _ string) []byte {
	return r.Copy(payload)
}

func (r *RawText) Destroy(_ []byte) {}

func (r *RawText) Print(payload []byte) string {
	text, revision := DecodeRawText(payload)
	return fmt.Sprintf("rawtext(rev=%d)=%q", revision, text)
}

func (r *RawText) Revision(payload []byte) uint64 {
	_, revision := DecodeRawText(payload)
	return revision
}

func (r *RawText) Marshal(payload []byte) ([]byte, error) {
	return r.Copy(payload), nil
}

func (r *RawText) Demarshal(wire []byte) ([]byte, error) {
	return r.Copy(wire), nil
}

// Demerge/Merge implement Mergeable using a single capability, "full": a
// peer declaring it keeps the whole payload; any other peer gets the bare
// text with revision 0 and the stripped revision bytes are returned as
// the removed remainder.
func (r *RawText) Demerge(payload []byte, caps []string) (reduced []byte, removed []byte) {
	if Supports(caps, CapFull) {
		return r.Copy(payload), nil
	}
	text, _ := DecodeRawText(payload)
	return EncodeRawText(text, 0), payload[:8]
}

func (r *RawText) Merge(reduced []byte, removed []byte) []byte {
	if len(removed) < 8 {
		return r.Copy(reduced)
	}
	text, _ := DecodeRawText(reduced)
	revision := binary.BigEndian.Uint64(removed[:8])
	return EncodeRawText(text, revision)
}

var _ Mergeable = (*RawText)(nil)

// Equal is a small helper comparing two rawtext payloads' decoded text
// only (ignoring revision).
func Equal(a, b []byte) bool {
	textA, _ := DecodeRawText(a)
	textB, _ := DecodeRawText(b)
	return bytes.Equal([]byte(textA), []byte(textB))
}

package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ───────────────────────────────────────────────────────────────────────────
// PropertyValue — tagged union
// ───────────────────────────────────────────────────────────────────────────
//
// Replaces the teacher's []any row codec (internal/storage/pager/row_codec.go)
// with a closed five-alternative union matching spec.md §3/§6: every
// property value is exactly one of Bool, Int, Float, String, Bytes. The
// wire tags below are the ones named in §6 for the property-index stream
// (1=Bool, 2=Int, 3=String) plus two more (4=Float, 5=Bytes) needed for the
// node/edge record encoding, which must round-trip all five alternatives
// even though only three of them are indexable.

// ValueKind identifies which alternative of PropertyValue is populated.
type ValueKind uint8

const (
	KindBool ValueKind = iota + 1
	KindInt
	KindString
	KindFloat
	KindBytes
)

func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindString:
		return "String"
	case KindFloat:
		return "Float"
	case KindBytes:
		return "Bytes"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// PropertyValue is the tagged union of node/edge property values.
type PropertyValue struct {
	Kind ValueKind
	B    bool
	I    int64
	F    float64
	S    string
	By   []byte
}

func BoolValue(b bool) PropertyValue    { return PropertyValue{Kind: KindBool, B: b} }
func IntValue(i int64) PropertyValue    { return PropertyValue{Kind: KindInt, I: i} }
func FloatValue(f float64) PropertyValue { return PropertyValue{Kind: KindFloat, F: f} }
func StringValue(s string) PropertyValue { return PropertyValue{Kind: KindString, S: s} }
func BytesValue(b []byte) PropertyValue  { return PropertyValue{Kind: KindBytes, By: append([]byte{}, b...)} }

// Indexable reports whether this value's kind may appear in a property
// index — per spec.md §4.5 the indexable subset is {Bool, Int, String};
// Float and Bytes are excluded.
func (v PropertyValue) Indexable() bool {
	switch v.Kind {
	case KindBool, KindInt, KindString:
		return true
	default:
		return false
	}
}

// Equal reports whether two values are identical (same kind, same payload).
func (v PropertyValue) Equal(o PropertyValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.B == o.B
	case KindInt:
		return v.I == o.I
	case KindFloat:
		return v.F == o.F
	case KindString:
		return v.S == o.S
	case KindBytes:
		if len(v.By) != len(o.By) {
			return false
		}
		for i := range v.By {
			if v.By[i] != o.By[i] {
				return false
			}
		}
		return true
	}
	return false
}

// Less orders two values of the same indexable kind, used for ordered
// property-index lookups (range scans over IndexableValue → node-id set).
func (v PropertyValue) Less(o PropertyValue) bool {
	switch v.Kind {
	case KindBool:
		return !v.B && o.B
	case KindInt:
		return v.I < o.I
	case KindString:
		return v.S < o.S
	default:
		return false
	}
}

// wire tags for node/edge record payloads (spec.md §6 "values carry a
// 1-byte type tag"). Record-payload tags share their numbering with the
// property-index IndexableValue tags (1=Bool,2=Int,3=String) and add two
// more (4=Float, 5=Bytes) for the non-indexable alternatives.
const (
	valTagBool   byte = 0x01
	valTagInt    byte = 0x02
	valTagString byte = 0x03
	valTagFloat  byte = 0x04
	valTagBytes  byte = 0x05
)

// encodeValue appends the tagged wire encoding of v to buf.
func encodeValue(buf []byte, v PropertyValue) []byte {
	switch v.Kind {
	case KindBool:
		buf = append(buf, valTagBool)
		if v.B {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindInt:
		buf = append(buf, valTagInt)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.I))
		buf = append(buf, b[:]...)
	case KindFloat:
		buf = append(buf, valTagFloat)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.F))
		buf = append(buf, b[:]...)
	case KindString:
		buf = append(buf, valTagString)
		buf = appendLenPrefixed(buf, []byte(v.S))
	case KindBytes:
		buf = append(buf, valTagBytes)
		buf = appendLenPrefixed(buf, v.By)
	default:
		panic(fmt.Sprintf("store: unknown PropertyValue kind %d", v.Kind))
	}
	return buf
}

// decodeValue reads one tagged value starting at data[off]; returns the
// value and the offset just past it.
func decodeValue(data []byte, off int) (PropertyValue, int, error) {
	if off >= len(data) {
		return PropertyValue{}, off, fmt.Errorf("store: truncated value tag at offset %d", off)
	}
	tag := data[off]
	off++
	switch tag {
	case valTagBool:
		if off >= len(data) {
			return PropertyValue{}, off, fmt.Errorf("store: truncated bool value")
		}
		v := PropertyValue{Kind: KindBool, B: data[off] != 0}
		return v, off + 1, nil
	case valTagInt:
		if off+8 > len(data) {
			return PropertyValue{}, off, fmt.Errorf("store: truncated int value")
		}
		v := PropertyValue{Kind: KindInt, I: int64(binary.LittleEndian.Uint64(data[off : off+8]))}
		return v, off + 8, nil
	case valTagFloat:
		if off+8 > len(data) {
			return PropertyValue{}, off, fmt.Errorf("store: truncated float value")
		}
		v := PropertyValue{Kind: KindFloat, F: math.Float64frombits(binary.LittleEndian.Uint64(data[off : off+8]))}
		return v, off + 8, nil
	case valTagString:
		s, next, err := readLenPrefixed(data, off)
		if err != nil {
			return PropertyValue{}, off, err
		}
		return PropertyValue{Kind: KindString, S: string(s)}, next, nil
	case valTagBytes:
		b, next, err := readLenPrefixed(data, off)
		if err != nil {
			return PropertyValue{}, off, err
		}
		return PropertyValue{Kind: KindBytes, By: append([]byte{}, b...)}, next, nil
	default:
		return PropertyValue{}, off, fmt.Errorf("store: unknown value tag 0x%02x", tag)
	}
}

// appendLenPrefixed appends a 4-byte little-endian length prefix then data.
func appendLenPrefixed(buf []byte, data []byte) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(data)))
	buf = append(buf, b[:]...)
	buf = append(buf, data...)
	return buf
}

// readLenPrefixed reads a 4-byte length prefix then that many bytes,
// starting at off. Returns the slice and the offset just past it.
func readLenPrefixed(data []byte, off int) ([]byte, int, error) {
	if off+4 > len(data) {
		return nil, off, fmt.Errorf("store: truncated length prefix at offset %d", off)
	}
	n := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if n < 0 || off+n > len(data) {
		return nil, off, fmt.Errorf("store: length-prefixed field overruns buffer (len=%d)", n)
	}
	return data[off : off+n], off + n, nil
}

// tagIndexable maps an indexable ValueKind to the property-index wire tag
// named in spec.md §6 (1=Bool, 2=Int, 3=String).
func tagIndexable(k ValueKind) byte {
	switch k {
	case KindBool:
		return 1
	case KindInt:
		return 2
	case KindString:
		return 3
	default:
		panic(fmt.Sprintf("store: value kind %v is not indexable", k))
	}
}

// encodeIndexableValue appends the property-index wire encoding of v.
func encodeIndexableValue(buf []byte, v PropertyValue) []byte {
	buf = append(buf, tagIndexable(v.Kind))
	switch v.Kind {
	case KindBool:
		if v.B {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindInt:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.I))
		buf = append(buf, b[:]...)
	case KindString:
		buf = appendLenPrefixed(buf, []byte(v.S))
	}
	return buf
}

// decodeIndexableValue reads one property-index tagged value at data[off].
func decodeIndexableValue(data []byte, off int) (PropertyValue, int, error) {
	if off >= len(data) {
		return PropertyValue{}, off, fmt.Errorf("store: truncated indexable value tag")
	}
	tag := data[off]
	off++
	switch tag {
	case 1:
		if off >= len(data) {
			return PropertyValue{}, off, fmt.Errorf("store: truncated indexable bool")
		}
		return PropertyValue{Kind: KindBool, B: data[off] != 0}, off + 1, nil
	case 2:
		if off+8 > len(data) {
			return PropertyValue{}, off, fmt.Errorf("store: truncated indexable int")
		}
		return PropertyValue{Kind: KindInt, I: int64(binary.LittleEndian.Uint64(data[off : off+8]))}, off + 8, nil
	case 3:
		s, next, err := readLenPrefixed(data, off)
		if err != nil {
			return PropertyValue{}, off, err
		}
		return PropertyValue{Kind: KindString, S: string(s)}, next, nil
	default:
		return PropertyValue{}, off, fmt.Errorf("store: unknown indexable value tag 0x%02x", tag)
	}
}

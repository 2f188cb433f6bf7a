package store

import (
	"encoding/binary"
	"fmt"

	"github.com/grphite/grphite/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Node / Edge records
// ───────────────────────────────────────────────────────────────────────────
//
// Wire layout per spec.md §6, built the way the teacher's row_codec.go
// builds MarshalRow/UnmarshalRow: append to a growable []byte on write,
// walk an explicit cursor on read, bounds-checking every step.

// RecordKind tags the payload wrapped inside a slotted-page record — the
// kind+padding+length wrapper named in spec.md §4.3, kept at this layer
// (not in internal/pager/slotted_page.go) so the pager stays free of
// domain (node/edge) knowledge; only the store package knows what a
// record's payload means.
type RecordKind byte

const (
	RecordKindFree RecordKind = 0
	RecordKindNode RecordKind = 1
	RecordKindEdge RecordKind = 2
)

// recordWrapperSize is kind(1) + padding(3) + length(4).
const recordWrapperSize = 8

// wrapRecord prepends the kind+padding+length header spec.md §4.3
// describes, producing the bytes that get inserted into a slotted page.
func wrapRecord(kind RecordKind, payload []byte) ([]byte, error) {
	if len(payload) >= pager.MaxRecordSize {
		return nil, fmt.Errorf("%w: payload %d bytes", ErrRecordTooLarge, len(payload))
	}
	buf := make([]byte, recordWrapperSize+len(payload))
	buf[0] = byte(kind)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[recordWrapperSize:], payload)
	return buf, nil
}

// unwrapRecord splits a slotted-page record back into its kind and payload.
func unwrapRecord(buf []byte) (RecordKind, []byte, error) {
	if len(buf) < recordWrapperSize {
		return 0, nil, fmt.Errorf("%w: record shorter than wrapper header", pager.ErrCorruption)
	}
	kind := RecordKind(buf[0])
	n := binary.LittleEndian.Uint32(buf[4:8])
	if int(n) != len(buf)-recordWrapperSize {
		return 0, nil, fmt.Errorf("%w: record length field %d does not match payload %d",
			pager.ErrCorruption, n, len(buf)-recordWrapperSize)
	}
	return kind, buf[recordWrapperSize:], nil
}

// Node is the in-memory representation of a graph node.
type Node struct {
	ID              uint64
	Labels          []string
	Properties      map[string]PropertyValue
	FirstOutgoingID uint64 // 0 = none
	FirstIncomingID uint64 // 0 = none
}

// Edge is the in-memory representation of a directed, typed graph edge.
type Edge struct {
	ID         uint64
	Source     uint64
	Target     uint64
	Type       string
	Properties map[string]PropertyValue
	NextOutID  uint64 // successor in Source's outgoing chain, 0 = none
	NextInID   uint64 // successor in Target's incoming chain, 0 = none
}

// EncodeNode serializes n per spec.md §6:
//
//	id(8) | first_out(8) | first_in(8) | label_count(4) | (label_len(4)+bytes)*
//	| prop_count(4) | (key_len(4)+bytes+tagged_value)*
func EncodeNode(n *Node) []byte {
	est := 8 + 8 + 8 + 4 + len(n.Labels)*12 + 4 + len(n.Properties)*24
	buf := make([]byte, 0, est)
	buf = appendUint64(buf, n.ID)
	buf = appendUint64(buf, n.FirstOutgoingID)
	buf = appendUint64(buf, n.FirstIncomingID)
	buf = appendUint32(buf, uint32(len(n.Labels)))
	for _, l := range n.Labels {
		buf = appendLenPrefixed(buf, []byte(l))
	}
	buf = appendUint32(buf, uint32(len(n.Properties)))
	for k, v := range n.Properties {
		buf = appendLenPrefixed(buf, []byte(k))
		buf = encodeValue(buf, v)
	}
	return buf
}

// DecodeNode parses a buffer produced by EncodeNode.
func DecodeNode(data []byte) (*Node, error) {
	off := 0
	id, off, err := readUint64(data, off)
	if err != nil {
		return nil, err
	}
	firstOut, off, err := readUint64(data, off)
	if err != nil {
		return nil, err
	}
	firstIn, off, err := readUint64(data, off)
	if err != nil {
		return nil, err
	}
	labelCount, off, err := readUint32(data, off)
	if err != nil {
		return nil, err
	}
	labels := make([]string, labelCount)
	for i := range labels {
		var lb []byte
		lb, off, err = readLenPrefixed(data, off)
		if err != nil {
			return nil, err
		}
		labels[i] = string(lb)
	}
	propCount, off, err := readUint32(data, off)
	if err != nil {
		return nil, err
	}
	props := make(map[string]PropertyValue, propCount)
	for i := uint32(0); i < propCount; i++ {
		var kb []byte
		kb, off, err = readLenPrefixed(data, off)
		if err != nil {
			return nil, err
		}
		var v PropertyValue
		v, off, err = decodeValue(data, off)
		if err != nil {
			return nil, err
		}
		props[string(kb)] = v
	}
	return &Node{
		ID:              id,
		Labels:          labels,
		Properties:      props,
		FirstOutgoingID: firstOut,
		FirstIncomingID: firstIn,
	}, nil
}

// EncodeEdge serializes e per spec.md §6:
//
//	id(8) | src(8) | tgt(8) | next_out(8) | next_in(8) | type_len(4)+bytes
//	| prop_count(4) | properties*
func EncodeEdge(e *Edge) []byte {
	est := 8*5 + 4 + len(e.Type) + 4 + len(e.Properties)*24
	buf := make([]byte, 0, est)
	buf = appendUint64(buf, e.ID)
	buf = appendUint64(buf, e.Source)
	buf = appendUint64(buf, e.Target)
	buf = appendUint64(buf, e.NextOutID)
	buf = appendUint64(buf, e.NextInID)
	buf = appendLenPrefixed(buf, []byte(e.Type))
	buf = appendUint32(buf, uint32(len(e.Properties)))
	for k, v := range e.Properties {
		buf = appendLenPrefixed(buf, []byte(k))
		buf = encodeValue(buf, v)
	}
	return buf
}

// DecodeEdge parses a buffer produced by EncodeEdge.
func DecodeEdge(data []byte) (*Edge, error) {
	off := 0
	id, off, err := readUint64(data, off)
	if err != nil {
		return nil, err
	}
	src, off, err := readUint64(data, off)
	if err != nil {
		return nil, err
	}
	tgt, off, err := readUint64(data, off)
	if err != nil {
		return nil, err
	}
	nextOut, off, err := readUint64(data, off)
	if err != nil {
		return nil, err
	}
	nextIn, off, err := readUint64(data, off)
	if err != nil {
		return nil, err
	}
	typeBytes, off, err := readLenPrefixed(data, off)
	if err != nil {
		return nil, err
	}
	propCount, off, err := readUint32(data, off)
	if err != nil {
		return nil, err
	}
	props := make(map[string]PropertyValue, propCount)
	for i := uint32(0); i < propCount; i++ {
		var kb []byte
		kb, off, err = readLenPrefixed(data, off)
		if err != nil {
			return nil, err
		}
		var v PropertyValue
		v, off, err = decodeValue(data, off)
		if err != nil {
			return nil, err
		}
		props[string(kb)] = v
	}
	return &Edge{
		ID:         id,
		Source:     src,
		Target:     tgt,
		Type:       string(typeBytes),
		Properties: props,
		NextOutID:  nextOut,
		NextInID:   nextIn,
	}, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func readUint64(data []byte, off int) (uint64, int, error) {
	if off+8 > len(data) {
		return 0, off, fmt.Errorf("%w: truncated uint64 at offset %d", pager.ErrCorruption, off)
	}
	return binary.LittleEndian.Uint64(data[off : off+8]), off + 8, nil
}

func readUint32(data []byte, off int) (uint32, int, error) {
	if off+4 > len(data) {
		return 0, off, fmt.Errorf("%w: truncated uint32 at offset %d", pager.ErrCorruption, off)
	}
	return binary.LittleEndian.Uint32(data[off : off+4]), off + 4, nil
}

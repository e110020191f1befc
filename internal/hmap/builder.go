package hmap

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Builder constructs a well-formed .hmap byte stream. It exists so tests
// (and offline fixture generation) can produce synthetic containers
// without a real game client; production imports only ever read streams,
// never write them.
type Builder struct {
	segments []segmentBuild
}

type segmentBuild struct {
	id      uint64
	grids   []GridData
	markers []Marker
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddSegment registers a segment's grids and markers, in the order
// segments should appear (first-occurrence order becomes SegmentIDs()
// order after a round trip through Read).
func (b *Builder) AddSegment(id uint64, grids []GridData, markers []Marker) *Builder {
	b.segments = append(b.segments, segmentBuild{id: id, grids: grids, markers: markers})
	return b
}

// Bytes encodes the builder's segments into a complete .hmap stream.
func (b *Builder) Bytes() []byte {
	var out bytes.Buffer
	out.WriteString(magic)
	out.WriteByte(formatVersion)

	for _, seg := range b.segments {
		payload := encodeSegment(seg)
		out.WriteByte(tagSegment)
		writeUint32(&out, uint32(len(payload)))
		out.Write(payload)
	}

	return out.Bytes()
}

func encodeSegment(seg segmentBuild) []byte {
	var buf bytes.Buffer
	writeUint64(&buf, seg.id)
	writeUint32(&buf, uint32(len(seg.grids)))
	for _, g := range seg.grids {
		writeGrid(&buf, g)
	}
	writeUint32(&buf, uint32(len(seg.markers)))
	for _, m := range seg.markers {
		writeMarker(&buf, m)
	}
	return buf.Bytes()
}

func writeGrid(buf *bytes.Buffer, g GridData) {
	writeUint32(buf, uint32(int32(g.TileX)))
	writeUint32(buf, uint32(int32(g.TileY)))
	writeUint16(buf, uint16(len(g.Tilesets)))
	for _, ts := range g.Tilesets {
		writeString(buf, ts.ResourceName)
	}
	buf.Write(g.TileIndices[:])
	if g.ZMap != nil {
		buf.WriteByte(1)
		for _, z := range g.ZMap {
			writeUint64(buf, math.Float64bits(z))
		}
	} else {
		buf.WriteByte(0)
	}
}

func writeMarker(buf *bytes.Buffer, m Marker) {
	if m.IsSMarker {
		buf.WriteByte(markerKindS)
	} else {
		buf.WriteByte(markerKindOther)
	}
	writeString(buf, m.Name)
	writeUint32(buf, uint32(int32(m.TileX)))
	writeUint32(buf, uint32(int32(m.TileY)))
	if m.IsSMarker {
		writeString(buf, m.ResourceName)
	}
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint16(buf, uint16(len(s)))
	buf.WriteString(s)
}

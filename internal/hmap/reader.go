package hmap

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/mapcore/hmapimport/internal/importerrors"
)

// Read parses a complete .hmap stream into a Container. It fails with
// *importerrors.ParseError on truncation or an unknown required chunk.
func Read(r io.Reader) (*Container, error) {
	cr := &countingReader{r: r}

	hdr := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(cr, hdr); err != nil {
		return nil, &importerrors.ParseError{Offset: cr.pos, Reason: "truncated header"}
	}
	if string(hdr[:len(magic)]) != magic {
		return nil, &importerrors.ParseError{Offset: 0, Reason: "bad magic"}
	}
	version := hdr[len(magic)]
	if version != formatVersion {
		return nil, &importerrors.ParseError{Offset: int64(len(magic)), Reason: "unsupported version"}
	}

	container := NewContainer()

	for {
		tagBuf := make([]byte, 1)
		n, err := cr.Read(tagBuf)
		if n == 0 && err == io.EOF {
			break
		}
		if err != nil && err != io.EOF {
			return nil, &importerrors.ParseError{Offset: cr.pos, Reason: "truncated chunk tag"}
		}
		if n == 0 {
			break
		}

		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(cr, lenBuf); err != nil {
			return nil, &importerrors.ParseError{Offset: cr.pos, Reason: "truncated chunk length"}
		}
		length := binary.BigEndian.Uint32(lenBuf)

		payload := make([]byte, length)
		if _, err := io.ReadFull(cr, payload); err != nil {
			return nil, &importerrors.ParseError{Offset: cr.pos, Reason: "truncated chunk payload"}
		}

		switch tagBuf[0] {
		case tagSegment:
			if err := parseSegmentChunk(payload, container); err != nil {
				return nil, err
			}
		default:
			return nil, &importerrors.ParseError{Offset: cr.pos, Reason: "unknown required chunk tag"}
		}
	}

	return container, nil
}

func parseSegmentChunk(payload []byte, c *Container) error {
	p := &byteCursor{b: payload}

	segmentID, err := p.readUint64()
	if err != nil {
		return &importerrors.ParseError{Offset: -1, Reason: "truncated segment id"}
	}

	gridCount, err := p.readUint32()
	if err != nil {
		return &importerrors.ParseError{Offset: -1, Reason: "truncated grid count"}
	}
	grids := make([]GridData, 0, gridCount)
	for i := uint32(0); i < gridCount; i++ {
		g, err := readGrid(p)
		if err != nil {
			return err
		}
		grids = append(grids, g)
	}

	markerCount, err := p.readUint32()
	if err != nil {
		return &importerrors.ParseError{Offset: -1, Reason: "truncated marker count"}
	}
	markers := make([]Marker, 0, markerCount)
	for i := uint32(0); i < markerCount; i++ {
		m, err := readMarker(p)
		if err != nil {
			return err
		}
		markers = append(markers, m)
	}

	c.AddSegment(segmentID, grids, markers)
	return nil
}

func readGrid(p *byteCursor) (GridData, error) {
	var g GridData

	tileX, err := p.readInt32()
	if err != nil {
		return g, &importerrors.ParseError{Offset: -1, Reason: "truncated grid tileX"}
	}
	tileY, err := p.readInt32()
	if err != nil {
		return g, &importerrors.ParseError{Offset: -1, Reason: "truncated grid tileY"}
	}
	g.TileX, g.TileY = int(tileX), int(tileY)

	tilesetCount, err := p.readUint16()
	if err != nil {
		return g, &importerrors.ParseError{Offset: -1, Reason: "truncated tileset count"}
	}
	g.Tilesets = make([]Tileset, 0, tilesetCount)
	for i := uint16(0); i < tilesetCount; i++ {
		name, err := p.readString()
		if err != nil {
			return g, &importerrors.ParseError{Offset: -1, Reason: "truncated tileset name"}
		}
		g.Tilesets = append(g.Tilesets, Tileset{ResourceName: name})
	}

	indices, err := p.readBytes(GridCells)
	if err != nil {
		return g, &importerrors.ParseError{Offset: -1, Reason: "truncated tile indices"}
	}
	copy(g.TileIndices[:], indices)

	hasZMap, err := p.readByte()
	if err != nil {
		return g, &importerrors.ParseError{Offset: -1, Reason: "truncated zmap flag"}
	}
	if hasZMap == 1 {
		var zmap [GridCells]float64
		for i := 0; i < GridCells; i++ {
			bits, err := p.readUint64()
			if err != nil {
				return g, &importerrors.ParseError{Offset: -1, Reason: "truncated zmap value"}
			}
			zmap[i] = math.Float64frombits(bits)
		}
		g.ZMap = &zmap
	}

	return g, nil
}

func readMarker(p *byteCursor) (Marker, error) {
	var m Marker

	kind, err := p.readByte()
	if err != nil {
		return m, &importerrors.ParseError{Offset: -1, Reason: "truncated marker kind"}
	}

	name, err := p.readString()
	if err != nil {
		return m, &importerrors.ParseError{Offset: -1, Reason: "truncated marker name"}
	}
	m.Name = name

	tileX, err := p.readInt32()
	if err != nil {
		return m, &importerrors.ParseError{Offset: -1, Reason: "truncated marker tileX"}
	}
	tileY, err := p.readInt32()
	if err != nil {
		return m, &importerrors.ParseError{Offset: -1, Reason: "truncated marker tileY"}
	}
	m.TileX, m.TileY = int(tileX), int(tileY)

	switch kind {
	case markerKindS:
		resourceName, err := p.readString()
		if err != nil {
			return m, &importerrors.ParseError{Offset: -1, Reason: "truncated marker resource name"}
		}
		m.ResourceName = resourceName
		m.IsSMarker = true
	case markerKindOther:
		// no extra fields
	default:
		return m, &importerrors.ParseError{Offset: -1, Reason: "unknown marker kind"}
	}

	return m, nil
}

// countingReader tracks the byte offset for ParseError reporting.
type countingReader struct {
	r   io.Reader
	pos int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.pos += int64(n)
	return n, err
}

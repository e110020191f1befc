package hmap

// Wire format (internal plumbing, not a spec contract): a 4-byte magic
// "HMAP", a version byte, then a sequence of chunks until EOF. Each chunk
// is (tag byte, length uint32 big-endian, payload). The only chunk tag
// the reader understands is tagSegment; any other tag is an unknown
// required chunk and is a ParseError per spec.md §4.1.

const (
	magic         = "HMAP"
	formatVersion = byte(1)

	tagSegment = byte(0x01)

	markerKindS     = byte(1)
	markerKindOther = byte(2)
)

package hmap

import (
	"encoding/binary"
	"io"
)

// byteCursor is a tiny bounds-checked reader over an in-memory chunk
// payload, used while decoding a single segment chunk.
type byteCursor struct {
	b   []byte
	pos int
}

func (c *byteCursor) need(n int) error {
	if c.pos+n > len(c.b) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (c *byteCursor) readByte() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.b[c.pos]
	c.pos++
	return v, nil
}

func (c *byteCursor) readBytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	v := c.b[c.pos : c.pos+n]
	c.pos += n
	return v, nil
}

func (c *byteCursor) readUint16() (uint16, error) {
	b, err := c.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *byteCursor) readUint32() (uint32, error) {
	b, err := c.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *byteCursor) readInt32() (int32, error) {
	v, err := c.readUint32()
	return int32(v), err
}

func (c *byteCursor) readUint64() (uint64, error) {
	b, err := c.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (c *byteCursor) readString() (string, error) {
	n, err := c.readUint16()
	if err != nil {
		return "", err
	}
	b, err := c.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

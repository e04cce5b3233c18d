package rpc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

var (
	// ErrShortMessage is returned when a message ends before its declared
	// layout does.
	ErrShortMessage = errors.New("message shorter than its layout")

	// ErrTrailingData is returned when bytes remain after a message layout
	// was fully decoded.
	ErrTrailingData = errors.New("trailing bytes after message")

	// ErrMessageTooLarge is returned when a record exceeds the configured
	// maximum size.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// FragmentHeader is the 4-byte record marking header preceding every
// fragment on a stream transport.
type FragmentHeader struct {
	IsLast bool
	Length uint32
}

// ReadFragmentHeader reads and splits one record marking header.
func ReadFragmentHeader(r io.Reader) (FragmentHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FragmentHeader{}, err
	}

	header := binary.BigEndian.Uint32(buf[:])
	return FragmentHeader{
		IsLast: header&fragmentLastBit != 0,
		Length: header & fragmentLenMask,
	}, nil
}

// ReadRecord reads one complete record, reassembling fragments.
//
// The returned buffer may come from the buffer pool; callers hand it back
// with PutBuffer once they no longer reference it.
//
// Returns io.EOF only when the stream ends cleanly before a header.
func ReadRecord(r io.Reader, maxSize uint32) ([]byte, error) {
	header, err := ReadFragmentHeader(r)
	if err != nil {
		return nil, err
	}
	if header.Length > maxSize {
		return nil, fmt.Errorf("%w: fragment of %d bytes (max %d)", ErrMessageTooLarge, header.Length, maxSize)
	}

	record := GetBuffer(header.Length)
	if _, err := io.ReadFull(r, record); err != nil {
		PutBuffer(record)
		return nil, fmt.Errorf("read fragment: %w", err)
	}

	// Single fragment is the common case; anything else is reassembled into
	// an unpooled buffer.
	if header.IsLast {
		return record, nil
	}

	assembled := append([]byte(nil), record...)
	PutBuffer(record)

	for !header.IsLast {
		header, err = ReadFragmentHeader(r)
		if err != nil {
			return nil, fmt.Errorf("read fragment header: %w", err)
		}
		total := uint64(len(assembled)) + uint64(header.Length)
		if total > uint64(maxSize) {
			return nil, fmt.Errorf("%w: record of %d bytes (max %d)", ErrMessageTooLarge, total, maxSize)
		}

		start := len(assembled)
		assembled = append(assembled, make([]byte, header.Length)...)
		if _, err := io.ReadFull(r, assembled[start:]); err != nil {
			return nil, fmt.Errorf("read fragment: %w", err)
		}
	}

	return assembled, nil
}

// PutFragmentHeader writes a last-fragment header for a record of n bytes.
func PutFragmentHeader(dst []byte, n int) {
	binary.BigEndian.PutUint32(dst, fragmentLastBit|uint32(n))
}

// ParseRequestHeader splits a request into its header and body.
// The body is a slice of data, not a copy.
func ParseRequestHeader(data []byte) (RequestHeader, []byte, error) {
	var hdr RequestHeader
	if len(data) < RequestHeaderSize {
		return hdr, nil, fmt.Errorf("%w: %d bytes, need %d for header", ErrShortMessage, len(data), RequestHeaderSize)
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(data[:RequestHeaderSize]), &hdr); err != nil {
		return hdr, nil, fmt.Errorf("unmarshal request header: %w", err)
	}
	return hdr, data[RequestHeaderSize:], nil
}

// ParseReplyHeader is the client-side counterpart of ParseRequestHeader.
func ParseReplyHeader(data []byte) (ReplyHeader, []byte, error) {
	var hdr ReplyHeader
	if len(data) < ReplyHeaderSize {
		return hdr, nil, fmt.Errorf("%w: %d bytes, need %d for header", ErrShortMessage, len(data), ReplyHeaderSize)
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(data[:ReplyHeaderSize]), &hdr); err != nil {
		return hdr, nil, fmt.Errorf("unmarshal reply header: %w", err)
	}
	return hdr, data[ReplyHeaderSize:], nil
}

// Decode unmarshals a fixed-layout value of size bytes from r.
//
// The length is checked up front so a truncated message surfaces as
// ErrShortMessage rather than a decoder error.
func Decode(r *bytes.Reader, v any, size int) error {
	if r.Len() < size {
		return fmt.Errorf("%w: %d bytes left, need %d", ErrShortMessage, r.Len(), size)
	}
	if _, err := xdr.Unmarshal(r, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// Finish reports ErrTrailingData if r has unread bytes.
func Finish(r *bytes.Reader) error {
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d bytes", ErrTrailingData, r.Len())
	}
	return nil
}

// DecodeExact decodes a fixed-layout body that must be consumed entirely.
func DecodeExact(body []byte, v any, size int) error {
	r := bytes.NewReader(body)
	if err := Decode(r, v, size); err != nil {
		return err
	}
	return Finish(r)
}

// ExpectEmpty checks the body of a header-only message.
func ExpectEmpty(body []byte) error {
	if len(body) != 0 {
		return fmt.Errorf("%w: %d bytes", ErrTrailingData, len(body))
	}
	return nil
}

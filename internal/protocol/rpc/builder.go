package rpc

import (
	"errors"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// ErrSizeMismatch is returned when a message writes a different number of
// bytes than its Size method declared.
var ErrSizeMismatch = errors.New("encoded size differs from declared size")

// fixedWriter writes into a preallocated buffer and refuses to grow it.
type fixedWriter struct {
	buf []byte
	n   int
}

func (w *fixedWriter) Write(p []byte) (int, error) {
	if len(p) > len(w.buf)-w.n {
		return 0, fmt.Errorf("%w: write of %d bytes at offset %d overflows %d",
			ErrSizeMismatch, len(p), w.n, len(w.buf))
	}
	copy(w.buf[w.n:], p)
	w.n += len(p)
	return len(p), nil
}

// Marshal serializes msg into a freshly allocated, zero-initialized buffer
// of exactly msg.Size() bytes.
//
// Sizing happens before allocation and the written length is checked
// against it afterwards, so a message whose declared element count
// disagrees with what it writes never reaches the wire.
func Marshal(msg Message) ([]byte, error) {
	buf := make([]byte, msg.Size())
	if err := encodeInto(buf, msg); err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalRecord is Marshal with room for the record marking header,
// producing bytes ready to be written to a stream in one call.
func MarshalRecord(msg Message) ([]byte, error) {
	size := msg.Size()
	buf := make([]byte, 4+size)
	PutFragmentHeader(buf[:4], size)
	if err := encodeInto(buf[4:], msg); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeInto(buf []byte, msg Message) error {
	w := &fixedWriter{buf: buf}
	if err := msg.Encode(w); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if w.n != len(buf) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrSizeMismatch, w.n, len(buf))
	}
	return nil
}

// Encode marshals each value in order with XDR.
func Encode(w io.Writer, values ...any) error {
	for _, v := range values {
		if _, err := xdr.Marshal(w, v); err != nil {
			return err
		}
	}
	return nil
}

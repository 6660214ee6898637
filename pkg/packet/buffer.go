// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package packet

import (
	"errors"
	"sync/atomic"
)

// DefaultHeadReserve is the head space reserved by NewBuffer, sized to hold a packet
// header and a payload header without reallocation.
const DefaultHeadReserve = 64

var (
	// ErrHeadroom is returned when a Prepend does not fit into the reserved head space.
	ErrHeadroom = errors.New("packet: insufficient headroom")

	// ErrShortBuffer is returned when a Consume exceeds the Buffer's remaining length.
	ErrShortBuffer = errors.New("packet: buffer too short")

	// ErrReleased is returned when a Buffer is used after its last Release.
	ErrReleased = errors.New("packet: buffer was released")
)

// Buffer is a reference-counted byte region with reserved head space.
//
// The zero value is not usable; create Buffers through NewBuffer or NewBufferData.
type Buffer struct {
	store []byte
	start int
	end   int

	refs int32

	next *Buffer
}

// NewBuffer creates an empty Buffer with the given head reserve and payload capacity.
// The returned Buffer is owned by the caller with a reference count of one.
func NewBuffer(reserve, capacity int) *Buffer {
	return &Buffer{
		store: make([]byte, reserve+capacity),
		start: reserve,
		end:   reserve,
		refs:  1,
	}
}

// NewBufferData creates a Buffer holding a copy of data, with DefaultHeadReserve bytes
// of head space for subsequent header prepends.
func NewBufferData(data []byte) *Buffer {
	buff := &Buffer{
		store: make([]byte, DefaultHeadReserve+len(data)),
		start: DefaultHeadReserve,
		end:   DefaultHeadReserve + len(data),
		refs:  1,
	}
	copy(buff.store[buff.start:], data)
	return buff
}

// Retain increments the reference count, e.g., before handing the Buffer to another
// in-flight consumer.
func (buff *Buffer) Retain() *Buffer {
	atomic.AddInt32(&buff.refs, 1)
	return buff
}

// Release decrements the reference count. After the last Release the Buffer must not be
// used; its backing store is dropped. Chained Buffers are released alongside.
func (buff *Buffer) Release() {
	if atomic.AddInt32(&buff.refs, -1) > 0 {
		return
	}

	buff.store = nil
	buff.start = 0
	buff.end = 0

	if buff.next != nil {
		buff.next.Release()
		buff.next = nil
	}
}

func (buff *Buffer) released() bool {
	return buff.store == nil
}

// Len is the current payload length of this Buffer, excluding chained Buffers.
func (buff *Buffer) Len() int {
	return buff.end - buff.start
}

// TotalLen is the payload length of this Buffer plus all chained Buffers.
func (buff *Buffer) TotalLen() (n int) {
	for b := buff; b != nil; b = b.next {
		n += b.Len()
	}
	return
}

// Headroom is the remaining reserved head space available for Prepend.
func (buff *Buffer) Headroom() int {
	return buff.start
}

// Bytes returns the Buffer's current payload region. The slice aliases the Buffer's
// store and stays valid until the last Release.
func (buff *Buffer) Bytes() []byte {
	return buff.store[buff.start:buff.end]
}

// Prepend writes data directly before the current payload, growing the Buffer towards
// its head reserve. Used for in-place header encoding.
func (buff *Buffer) Prepend(data []byte) error {
	if buff.released() {
		return ErrReleased
	}
	if len(data) > buff.start {
		return ErrHeadroom
	}

	buff.start -= len(data)
	copy(buff.store[buff.start:], data)
	return nil
}

// Append writes data after the current payload, growing the backing store if needed.
func (buff *Buffer) Append(data []byte) error {
	if buff.released() {
		return ErrReleased
	}

	if buff.end+len(data) > len(buff.store) {
		store := make([]byte, buff.end+len(data))
		copy(store, buff.store[:buff.end])
		buff.store = store
	}

	copy(buff.store[buff.end:], data)
	buff.end += len(data)
	return nil
}

// Consume removes and returns the first n payload bytes. Used for in-place header
// decoding; the returned slice aliases the Buffer's store.
func (buff *Buffer) Consume(n int) ([]byte, error) {
	if buff.released() {
		return nil, ErrReleased
	}
	if n > buff.Len() {
		return nil, ErrShortBuffer
	}

	data := buff.store[buff.start : buff.start+n]
	buff.start += n
	return data, nil
}

// AddToEnd chains another Buffer after this one. The chain takes over the callee's
// reference.
func (buff *Buffer) AddToEnd(other *Buffer) {
	b := buff
	for b.next != nil {
		b = b.next
	}
	b.next = other
}

// HasChainedBuffer reports whether further Buffers are chained to this one.
func (buff *Buffer) HasChainedBuffer() bool {
	return buff.next != nil
}

// Next returns the chained successor, or nil.
func (buff *Buffer) Next() *Buffer {
	return buff.next
}

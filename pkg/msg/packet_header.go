// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msg

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"

	"github.com/semc/semc-go/pkg/packet"
)

// SecurityFlags describe how a frame's payload is protected.
type SecurityFlags uint8

const (
	// SecurityNone marks an unauthenticated frame, e.g., commissioning announcements.
	SecurityNone SecurityFlags = 0x00

	// SecuritySessionEncrypted marks a payload encrypted under an established session.
	SecuritySessionEncrypted SecurityFlags = 0x01
)

// PacketHeader is the outermost header of every frame. For encrypted frames the
// SessionID selects the receiving side's session and Counter feeds replay protection;
// unauthenticated frames carry SecurityNone and a zero SessionID.
type PacketHeader struct {
	SessionID     uint16
	SecurityFlags SecurityFlags
	Counter       uint32
	SourceNodeID  uint64
	DestNodeID    uint64
}

// IsEncrypted reports whether the payload following this header is encrypted.
func (ph PacketHeader) IsEncrypted() bool {
	return ph.SecurityFlags&SecuritySessionEncrypted != 0
}

// CheckValid returns an array of errors for incorrect field combinations.
func (ph PacketHeader) CheckValid() (errs error) {
	if flags := ph.SecurityFlags &^ SecuritySessionEncrypted; flags != 0 {
		errs = multierror.Append(errs, fmt.Errorf(
			"PacketHeader: unknown security flags %#02x", uint8(flags)))
	}

	if ph.IsEncrypted() {
		if ph.SessionID == 0 {
			errs = multierror.Append(errs, fmt.Errorf(
				"PacketHeader: encrypted frame without a session identifier"))
		}
	} else if ph.SessionID != 0 {
		errs = multierror.Append(errs, fmt.Errorf(
			"PacketHeader: unauthenticated frame names session %d", ph.SessionID))
	}

	return
}

// MarshalCbor writes this PacketHeader's CBOR representation.
func (ph *PacketHeader) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(5, w); err != nil {
		return err
	}

	fields := []uint64{
		uint64(ph.SessionID),
		uint64(ph.SecurityFlags),
		uint64(ph.Counter),
		ph.SourceNodeID,
		ph.DestNodeID,
	}
	for _, field := range fields {
		if err := cboring.WriteUInt(field, w); err != nil {
			return err
		}
	}

	return nil
}

// UnmarshalCbor reads a PacketHeader from its CBOR representation.
func (ph *PacketHeader) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 5 {
		return fmt.Errorf("PacketHeader: wrong array length: %d instead of 5", l)
	}

	fields := make([]uint64, 5)
	for i := range fields {
		if n, err := cboring.ReadUInt(r); err != nil {
			return err
		} else {
			fields[i] = n
		}
	}

	ph.SessionID = uint16(fields[0])
	ph.SecurityFlags = SecurityFlags(fields[1])
	ph.Counter = uint32(fields[2])
	ph.SourceNodeID = fields[3]
	ph.DestNodeID = fields[4]

	return ph.CheckValid()
}

// EncodeBeforeData prepends this PacketHeader to a Buffer's payload.
func (ph *PacketHeader) EncodeBeforeData(buff *packet.Buffer) error {
	var raw bytes.Buffer
	if err := ph.MarshalCbor(&raw); err != nil {
		return err
	}

	return buff.Prepend(raw.Bytes())
}

// DecodeAndConsume reads this PacketHeader from the front of a Buffer and consumes the
// header's bytes, leaving the remaining payload in place.
func (ph *PacketHeader) DecodeAndConsume(buff *packet.Buffer) error {
	r := bytes.NewReader(buff.Bytes())

	if err := ph.UnmarshalCbor(r); err != nil {
		return err
	}

	_, err := buff.Consume(buff.Len() - r.Len())
	return err
}

func (ph PacketHeader) String() string {
	return fmt.Sprintf("PacketHeader(session=%d,flags=%#02x,counter=%d)",
		ph.SessionID, uint8(ph.SecurityFlags), ph.Counter)
}

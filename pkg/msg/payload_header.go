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

// ExchangeFlags qualify a message's role within its exchange.
type ExchangeFlags uint8

const (
	// FlagInitiator is set on messages sent by the exchange's initiating side.
	FlagInitiator ExchangeFlags = 0x01

	// FlagAckRequested asks the peer to acknowledge this message.
	FlagAckRequested ExchangeFlags = 0x02
)

// PayloadHeader identifies the conversation a message belongs to. It follows the
// PacketHeader and is part of the encrypted payload on secured frames.
type PayloadHeader struct {
	ExchangeFlags ExchangeFlags
	ProtocolID    ProtocolID
	MessageType   uint8
	ExchangeID    uint16
}

// IsInitiator reports whether the message was sent by the exchange's initiator.
func (ph PayloadHeader) IsInitiator() bool {
	return ph.ExchangeFlags&FlagInitiator != 0
}

// CheckValid returns an array of errors for incorrect field values.
func (ph PayloadHeader) CheckValid() (errs error) {
	if flags := ph.ExchangeFlags &^ (FlagInitiator | FlagAckRequested); flags != 0 {
		errs = multierror.Append(errs, fmt.Errorf(
			"PayloadHeader: unknown exchange flags %#02x", uint8(flags)))
	}

	return
}

// MarshalCbor writes this PayloadHeader's CBOR representation.
func (ph *PayloadHeader) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(4, w); err != nil {
		return err
	}

	fields := []uint64{
		uint64(ph.ExchangeFlags),
		uint64(ph.ProtocolID),
		uint64(ph.MessageType),
		uint64(ph.ExchangeID),
	}
	for _, field := range fields {
		if err := cboring.WriteUInt(field, w); err != nil {
			return err
		}
	}

	return nil
}

// UnmarshalCbor reads a PayloadHeader from its CBOR representation.
func (ph *PayloadHeader) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 4 {
		return fmt.Errorf("PayloadHeader: wrong array length: %d instead of 4", l)
	}

	fields := make([]uint64, 4)
	for i := range fields {
		if n, err := cboring.ReadUInt(r); err != nil {
			return err
		} else {
			fields[i] = n
		}
	}

	ph.ExchangeFlags = ExchangeFlags(fields[0])
	ph.ProtocolID = ProtocolID(fields[1])
	ph.MessageType = uint8(fields[2])
	ph.ExchangeID = uint16(fields[3])

	return ph.CheckValid()
}

// EncodeBeforeData prepends this PayloadHeader to a Buffer's payload.
func (ph *PayloadHeader) EncodeBeforeData(buff *packet.Buffer) error {
	var raw bytes.Buffer
	if err := ph.MarshalCbor(&raw); err != nil {
		return err
	}

	return buff.Prepend(raw.Bytes())
}

// DecodeAndConsume reads this PayloadHeader from the front of a Buffer and consumes
// the header's bytes.
func (ph *PayloadHeader) DecodeAndConsume(buff *packet.Buffer) error {
	r := bytes.NewReader(buff.Bytes())

	if err := ph.UnmarshalCbor(r); err != nil {
		return err
	}

	_, err := buff.Consume(buff.Len() - r.Len())
	return err
}

func (ph PayloadHeader) String() string {
	return fmt.Sprintf("PayloadHeader(%v,type=%#02x,exchange=%d,flags=%#02x)",
		ph.ProtocolID, ph.MessageType, ph.ExchangeID, uint8(ph.ExchangeFlags))
}

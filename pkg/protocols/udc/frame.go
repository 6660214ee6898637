// SPDX-FileCopyrightText: 2026 Markus Sommer
// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/howeyc/crc16"

	"github.com/semc/semc-go/pkg/msg"
	"github.com/semc/semc-go/pkg/packet"
)

var (
	// ErrChecksum reports a frame whose CRC trailer does not match its content.
	ErrChecksum = errors.New("udc: checksum mismatch")

	// ErrMalformed reports a frame this package cannot parse.
	ErrMalformed = errors.New("udc: malformed announcement")
)

var crc16table = crc16.MakeTable(crc16.CCITT)

// EncodeAnnouncement builds an unauthenticated announcement frame: PacketHeader,
// PayloadHeader, the instance name as raw payload and a big endian CRC-16 trailer over
// everything before it.
func EncodeAnnouncement(sourceNodeID uint64, counter uint32, instanceName string) (*packet.Buffer, error) {
	buff := packet.NewBufferData([]byte(instanceName))

	payloadHeader := msg.PayloadHeader{
		ExchangeFlags: msg.FlagInitiator,
		ProtocolID:    msg.ProtocolUserDirectedCommissioning,
		MessageType:   msg.IdentificationDeclaration,
	}
	if err := payloadHeader.EncodeBeforeData(buff); err != nil {
		buff.Release()
		return nil, err
	}

	packetHeader := msg.PacketHeader{
		SecurityFlags: msg.SecurityNone,
		Counter:       counter,
		SourceNodeID:  sourceNodeID,
	}
	if err := packetHeader.EncodeBeforeData(buff); err != nil {
		buff.Release()
		return nil, err
	}

	trailer := make([]byte, 2)
	binary.BigEndian.PutUint16(trailer, crc16.Checksum(buff.Bytes(), crc16table))
	if err := buff.Append(trailer); err != nil {
		buff.Release()
		return nil, err
	}

	return buff, nil
}

// DecodeAnnouncement verifies a frame's checksum and headers and extracts the
// announced instance name. The Buffer is consumed up to the payload.
func DecodeAnnouncement(buff *packet.Buffer) (instanceName string, err error) {
	raw := buff.Bytes()
	if len(raw) < 3 {
		return "", ErrMalformed
	}

	body, trailer := raw[:len(raw)-2], raw[len(raw)-2:]
	if binary.BigEndian.Uint16(trailer) != crc16.Checksum(body, crc16table) {
		return "", ErrChecksum
	}

	var packetHeader msg.PacketHeader
	if err := packetHeader.DecodeAndConsume(buff); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if packetHeader.IsEncrypted() {
		return "", fmt.Errorf("%w: encrypted frame", ErrMalformed)
	}

	var payloadHeader msg.PayloadHeader
	if err := payloadHeader.DecodeAndConsume(buff); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payloadHeader.ProtocolID != msg.ProtocolUserDirectedCommissioning ||
		payloadHeader.MessageType != msg.IdentificationDeclaration {
		return "", fmt.Errorf("%w: %v", ErrMalformed, payloadHeader)
	}

	payload := buff.Bytes()
	if len(payload) < 2 {
		return "", ErrMalformed
	}

	return string(payload[:len(payload)-2]), nil
}

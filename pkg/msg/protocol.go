// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msg

import "fmt"

// ProtocolID identifies the application protocol a message belongs to. The Exchange
// Manager routes inbound messages to the handler registered for this identifier.
type ProtocolID uint16

const (
	// ProtocolSecureChannel carries session-internal traffic, e.g., message counter
	// synchronization and standalone acknowledgements.
	ProtocolSecureChannel ProtocolID = 0x0000

	// ProtocolEcho is the echo request/response protocol.
	ProtocolEcho ProtocolID = 0x0002

	// ProtocolUserDirectedCommissioning carries unauthenticated commissioning
	// announcements on their own transport endpoint.
	ProtocolUserDirectedCommissioning ProtocolID = 0x0003
)

func (pid ProtocolID) String() string {
	switch pid {
	case ProtocolSecureChannel:
		return "SecureChannel"
	case ProtocolEcho:
		return "Echo"
	case ProtocolUserDirectedCommissioning:
		return "UserDirectedCommissioning"
	default:
		return fmt.Sprintf("ProtocolID(%#04x)", uint16(pid))
	}
}

// Message types of the SecureChannel protocol.
const (
	MsgCounterSyncReq uint8 = 0x00
	MsgCounterSyncRsp uint8 = 0x01
	StandaloneAck     uint8 = 0x10
)

// Message types of the Echo protocol.
const (
	EchoRequest  uint8 = 0x01
	EchoResponse uint8 = 0x02
)

// Message types of the UserDirectedCommissioning protocol.
const (
	IdentificationDeclaration uint8 = 0x00
)

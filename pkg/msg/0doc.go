// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package msg models the wire message headers shared by all layers of the stack.
//
// Every frame starts with a PacketHeader carrying session identification, security flags
// and the message counter, followed by a PayloadHeader carrying the protocol identifier,
// message type and exchange identifier. Both headers are encoded as CBOR arrays and are
// prepended to, and consumed from, packet.Buffers in place.
package msg

// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport defines the carrier abstraction of the stack.
//
// An Endpoint binds one local port for one carrier kind, datagram (UDP), stream (TCP) or
// QUIC, and reports received frames over its status channel. A Sender transmits framed
// bytes to a PeerAddress; for stream carriers, connection establishment happens
// transparently inside Send.
//
// The Manager supervises the configured Endpoints, restarts them if necessary, and fans
// all received frames into the single registered receive handler.
package transport

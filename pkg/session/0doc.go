// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package session establishes, stores and tears down secure sessions between peer
// identities.
//
// A Session is keyed by (peer node identifier, administrative scope, role) and holds the
// negotiated symmetric key material together with its message counters: a send counter
// incremented per encrypted message and a receive-side acceptance window rejecting
// replays while tolerating limited reordering.
//
// The Manager encrypts outbound payloads and hands the framed result to the transport;
// inbound frames are decrypted, counter-checked and forwarded upward in arrival order.
// The actual cryptographic primitives are collaborators behind the PairingMaterial and
// AEAD interfaces.
package session

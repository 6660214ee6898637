// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package counter drives the message counter resynchronization protocol. When the
// session layer rejects an authenticated frame because its counter exceeds the receive
// window's tolerance, this package's Manager challenges the peer over the
// SecureChannel protocol and, on a valid response, re-anchors the window. Bounded
// failed attempts fault the session.
package counter

// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package packet provides the reference-counted Buffer used to pass frames between the
// transport, session and exchange layers.
//
// A Buffer owns a single byte region with reserved head space, so protocol headers can be
// prepended in place while the frame travels down the stack and consumed again on the way
// up. Buffers may be chained for scatter/gather style assembly. Ownership is tracked with
// a reference counter; the last Release invalidates the Buffer.
package packet

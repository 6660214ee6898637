// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package echo implements the echo protocol on top of the exchange layer. A Server
// answers every request with an identical response; a Client sends requests and
// reports responses or timeouts to an observer.
package echo

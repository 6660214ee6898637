// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package exchange multiplexes concurrent application-protocol conversations over
// secure sessions.
//
// Each conversation is a Context, identified by a locally-unique exchange identifier on
// its session. The Manager routes inbound messages either to the Context they belong to
// or, for unknown exchange identifiers, to the Handler registered for the carried
// protocol, creating a responder-side Context on the fly. Messages matching neither are
// dropped and counted, never escalated.
//
// A Context awaiting a response enforces a timeout: the message is retransmitted up to
// the policy's limit before the conversation fails with ErrTimeout. Closing a session
// closes every Context bound to it in the same step.
package exchange

// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package udc implements user-directed commissioning: unauthenticated
// IdentificationDeclaration announcements on a dedicated transport endpoint. A Server
// listens for announcements and forwards each newly seen instance name to a pluggable
// resolver; a Client emits announcements towards a commissioner.
//
// Announcement frames are not session-protected. A CRC-16 trailer guards against
// accidental corruption only.
package udc

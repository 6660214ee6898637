// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package monitor

import (
	"github.com/semc/semc-go/pkg/counter"
	"github.com/semc/semc-go/pkg/exchange"
	"github.com/semc/semc-go/pkg/protocols/udc"
	"github.com/semc/semc-go/pkg/session"
)

// CollectStats builds a statsFunc sampling the given managers. Nil arguments
// contribute zero values, e.g., with the UDC server disabled.
func CollectStats(sessions *session.Manager, exchanges *exchange.Manager,
	counters *counter.Manager, udcServer *udc.Server) func() Stats {

	return func() (stats Stats) {
		if sessions != nil {
			stats.Sessions = sessions.Sessions()
			stats.DroppedFrames = sessions.DroppedFrames()
		}
		if exchanges != nil {
			stats.Exchanges = exchanges.Contexts()
			stats.DroppedMessages = exchanges.DroppedMessages()
		}
		if counters != nil {
			stats.FaultedSessions = counters.FaultedSessions()
		}
		if udcServer != nil {
			stats.UdcClients = udcServer.Clients().Len()
		}
		return
	}
}

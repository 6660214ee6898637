// SPDX-FileCopyrightText: 2026 Alvar Penning
// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/profile"

	"github.com/semc/semc-go/pkg/counter"
	"github.com/semc/semc-go/pkg/exchange"
	"github.com/semc/semc-go/pkg/fabric"
	"github.com/semc/semc-go/pkg/monitor"
	"github.com/semc/semc-go/pkg/protocols/echo"
	"github.com/semc/semc-go/pkg/protocols/udc"
	"github.com/semc/semc-go/pkg/session"
	"github.com/semc/semc-go/pkg/storage"
	"github.com/semc/semc-go/pkg/transport"
	"github.com/semc/semc-go/pkg/transport/tcp"
	"github.com/semc/semc-go/pkg/transport/udp"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

// printUsage of echo-responder and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [--tcp|--disable-echo|--disable-UDC]\n\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  --tcp           serve sessions over the stream carrier instead of datagrams\n")
	_, _ = fmt.Fprintf(os.Stderr, "  --disable-echo  do not register the echo protocol handler\n")
	_, _ = fmt.Fprintf(os.Stderr, "  --disable-UDC   do not listen for commissioning announcements\n\n")
	_, _ = fmt.Fprintf(os.Stderr, "At most one flag may be given. The ECHO_RESPONDER_CONFIG environment\n")
	_, _ = fmt.Fprintf(os.Stderr, "variable may name a TOML configuration file.\n")

	os.Exit(1)
}

// commissioningResolver is the responder's InstanceNameResolver: it logs every
// commissionable instance and records it in the Store, if one is configured.
type commissioningResolver struct {
	store *storage.Store
}

func (resolver *commissioningResolver) FindCommissionableNode(instanceName string) {
	log.WithFields(log.Fields{
		"instance": instanceName,
	}).Info("Commissionable instance announced itself")

	if resolver.store != nil {
		if err := resolver.store.PutCommissioning(instanceName, ""); err != nil {
			log.WithError(err).Warn("Failed to record commissionable instance")
		}
	}
}

func parseRole(role string) (session.Role, error) {
	switch strings.ToLower(role) {
	case "", "responder":
		return session.Responder, nil
	case "initiator":
		return session.Initiator, nil
	default:
		return 0, fmt.Errorf("unknown pairing role %q", role)
	}
}

func main() {
	var useTcp, disableEcho, disableUdc bool

	if len(os.Args) > 2 {
		printUsage()
	}
	if len(os.Args) == 2 {
		switch os.Args[1] {
		case "--tcp":
			useTcp = true
		case "--disable-echo":
			disableEcho = true
		case "--disable-UDC":
			disableUdc = true
		default:
			printUsage()
		}
	}

	conf, err := loadConfiguration(os.Getenv("ECHO_RESPONDER_CONFIG"))
	if err != nil {
		log.WithError(err).Error("Failed to parse configuration")
		os.Exit(1)
	}

	if conf.Profiling.Enabled {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	// Every acquired resource registers its release here; fail unwinds them in
	// reverse order, so any startup error leaves nothing behind.
	var cleanups []func()
	unwind := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error, msg string) {
		unwind()
		log.WithError(err).Error(msg)
		os.Exit(1)
	}

	// Fabric table, optionally restored from the Store.
	fabricTable := fabric.NewTable(conf.Node.FabricCapacity)

	var store *storage.Store
	if conf.Node.Store != "" {
		if store, err = storage.NewStore(conf.Node.Store); err != nil {
			fail(err, "Failed to open the store")
		}
		cleanups = append(cleanups, func() {
			if err := store.SnapshotFabric(fabricTable); err != nil {
				log.WithError(err).Warn("Failed to snapshot the fabric table")
			}
			_ = store.Close()
		})

		if err = store.RestoreFabric(fabricTable); err != nil {
			fail(err, "Failed to restore the fabric table")
		}
	}

	scopeID := fabric.ScopeID(conf.Node.Scope)
	if _, err = fabricTable.Assign(scopeID, conf.Node.Id); err == fabric.ErrScopeTaken {
		// A restored table may already hold the own scope.
		log.WithField("scope", scopeID).Debug("Own scope was restored from the store")
	} else if err != nil {
		fail(err, "Failed to assign the own scope")
	}
	cleanups = append(cleanups, func() { _ = fabricTable.Release(scopeID) })

	// Session-bearing transport.
	transports := transport.NewManager()
	cleanups = append(cleanups, func() { _ = transports.Close() })

	var endpoint transport.Endpoint
	if useTcp {
		endpoint = tcp.NewEndpoint(conf.primaryAddress())
	} else {
		endpoint = udp.NewEndpoint(conf.primaryAddress())
	}
	if err = transports.Register(endpoint); err != nil {
		fail(err, "Failed to bind the primary transport")
	}

	sessions := session.NewManager(conf.Node.Id, transports, fabricTable,
		conf.Session.WindowSize, conf.Session.WindowTolerance)
	cleanups = append(cleanups, func() { _ = sessions.Close() })

	responseTimeout, err := conf.responseTimeout()
	if err != nil {
		fail(err, "Failed to parse the response timeout")
	}
	exchanges := exchange.NewManager(sessions, exchange.Policy{
		ResponseTimeout:    responseTimeout,
		MaxRetransmissions: conf.Exchange.MaxRetransmissions,
	})
	cleanups = append(cleanups, func() { _ = exchanges.Close() })

	transports.RegisterReceiveHandler(sessions.Receive)

	counters := counter.NewManager(sessions, exchanges, counter.Config{
		MaxAttempts:   conf.Counter.MaxAttempts,
		ChallengeSize: conf.Counter.ChallengeSize,
	})
	cleanups = append(cleanups, func() { _ = counters.Close() })

	var echoServer *echo.Server
	if !disableEcho {
		echoServer = echo.NewServer(exchanges)
		cleanups = append(cleanups, func() { _ = echoServer.Close() })
	}

	// Announcement listener on its own transport, fixed offset above the primary
	// port.
	var udcServer *udc.Server
	if !disableUdc {
		udcTransports := transport.NewManager()

		udcServer = udc.NewServer(udcTransports, conf.Node.FabricCapacity, udc.DefaultClientTimeout)
		udcServer.SetInstanceNameResolver(&commissioningResolver{store: store})
		cleanups = append(cleanups, func() { _ = udcServer.Close() })

		if err = udcTransports.Register(udp.NewEndpoint(conf.udcAddress())); err != nil {
			fail(err, "Failed to bind the announcement transport")
		}
	}

	if conf.Monitor.Listen != "" {
		diagnostics := monitor.NewMonitor(conf.Monitor.Listen,
			monitor.CollectStats(sessions, exchanges, counters, udcServer))
		cleanups = append(cleanups, func() { _ = diagnostics.Close() })

		if echoServer != nil {
			echoServer.SetRequestObserver(diagnostics)
		}
	}

	// Manual pairing against a pre-shared secret, pending a negotiated handshake.
	if conf.Pairing.Secret != "" {
		role, roleErr := parseRole(conf.Pairing.Role)
		if roleErr != nil {
			fail(roleErr, "Failed to parse the pairing role")
		}

		// Without a peer host the address stays undefined and is anchored by the
		// requester's first authenticated frame.
		var peer transport.PeerAddress
		if conf.Pairing.PeerHost != "" {
			peerIP := net.ParseIP(conf.Pairing.PeerHost)
			if peerIP == nil {
				fail(fmt.Errorf("cannot parse %q", conf.Pairing.PeerHost), "Failed to parse the peer host")
			}

			if useTcp {
				peer = transport.TCP(peerIP, conf.Pairing.PeerPort)
			} else {
				peer = transport.UDP(peerIP, conf.Pairing.PeerPort)
			}
		}

		material := session.TestSecretPairing{Secret: []byte(conf.Pairing.Secret)}
		if _, err = sessions.NewPairing(peer, conf.Pairing.PeerNode, material, role, scopeID); err != nil {
			fail(err, "Failed to establish the configured pairing")
		}
	}

	log.WithFields(log.Fields{
		"node":    fmt.Sprintf("%#x", conf.Node.Id),
		"address": conf.primaryAddress(),
		"tcp":     useTcp,
		"echo":    !disableEcho,
		"udc":     !disableUdc,
	}).Info("echo-responder is up")

	waitSigint()
	log.Info("Shutting down..")

	unwind()
}

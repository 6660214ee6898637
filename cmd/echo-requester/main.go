// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/semc/semc-go/pkg/counter"
	"github.com/semc/semc-go/pkg/exchange"
	"github.com/semc/semc-go/pkg/fabric"
	"github.com/semc/semc-go/pkg/protocols/echo"
	"github.com/semc/semc-go/pkg/session"
	"github.com/semc/semc-go/pkg/transport"
	"github.com/semc/semc-go/pkg/transport/quics"
	"github.com/semc/semc-go/pkg/transport/tcp"
	"github.com/semc/semc-go/pkg/transport/udp"
)

// printUsage of echo-requester and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s ping|watch:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s ping udp|tcp|quic host:port local-node peer-node secret [payload]\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Pairs against the responder at host:port with the given pre-shared secret and\n")
	_, _ = fmt.Fprintf(os.Stderr, "  sends one echo request, \"ping\" unless a payload is given. The response or a\n")
	_, _ = fmt.Fprintf(os.Stderr, "  timeout is printed to stdout.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s watch udp|tcp|quic host:port local-node peer-node secret directory\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Watches the directory and sends every newly created file's content as an echo\n")
	_, _ = fmt.Fprintf(os.Stderr, "  request over the paired session, printing each outcome.\n\n")

	os.Exit(1)
}

// printFatal prints the error with its description and exits with an error code.
func printFatal(err error, description string) {
	_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", description, err)

	os.Exit(1)
}

// requesterStack bundles the client-side layers on top of one paired session.
type requesterStack struct {
	transports *transport.Manager
	sessions   *session.Manager
	exchanges  *exchange.Manager
	counters   *counter.Manager
	client     *echo.Client
	key        session.Key
}

// parsePeer interprets the carrier and host:port arguments.
func parsePeer(carrier, address string) (peer transport.PeerAddress, err error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return
	}
	ip := net.ParseIP(host)
	if ip == nil {
		err = fmt.Errorf("cannot parse IP address %q", host)
		return
	}

	switch carrier {
	case "udp":
		peer = transport.UDP(ip, uint16(port))
	case "tcp":
		peer = transport.TCP(ip, uint16(port))
	case "quic":
		peer = transport.QUIC(ip, uint16(port))
	default:
		err = fmt.Errorf("unknown carrier %q", carrier)
	}
	return
}

// startStack builds transports, sessions, exchanges and the echo client, and pairs
// one session against the responder with the pre-shared secret.
func startStack(carrier, address, localNodeStr, peerNodeStr, secret string, observer echo.ResponseObserver) (*requesterStack, error) {
	peer, err := parsePeer(carrier, address)
	if err != nil {
		return nil, err
	}

	localNode, err := strconv.ParseUint(localNodeStr, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot parse local node id: %w", err)
	}
	peerNode, err := strconv.ParseUint(peerNodeStr, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot parse peer node id: %w", err)
	}

	transports := transport.NewManager()

	var endpoint transport.Endpoint
	switch peer.Kind {
	case transport.KindTCP:
		endpoint = tcp.NewEndpoint(":0")
	case transport.KindQUIC:
		endpoint = quics.NewEndpoint(":0")
	default:
		endpoint = udp.NewEndpoint(":0")
	}
	if err := transports.Register(endpoint); err != nil {
		_ = transports.Close()
		return nil, err
	}

	fabricTable := fabric.NewTable(4)
	if _, err := fabricTable.Assign(0, localNode); err != nil {
		_ = transports.Close()
		return nil, err
	}

	sessions := session.NewManager(localNode, transports, fabricTable, 32, 64)
	exchanges := exchange.NewManager(sessions, exchange.DefaultPolicy)
	counters := counter.NewManager(sessions, exchanges, counter.DefaultConfig)
	transports.RegisterReceiveHandler(sessions.Receive)

	material := session.TestSecretPairing{Secret: []byte(secret)}
	s, err := sessions.NewPairing(peer, peerNode, material, session.Initiator, 0)
	if err != nil {
		_ = counters.Close()
		_ = exchanges.Close()
		_ = sessions.Close()
		_ = transports.Close()
		return nil, err
	}

	return &requesterStack{
		transports: transports,
		sessions:   sessions,
		exchanges:  exchanges,
		counters:   counters,
		client:     echo.NewClient(exchanges, observer),
		key:        s.Key,
	}, nil
}

func (stack *requesterStack) close() {
	_ = stack.counters.Close()
	_ = stack.exchanges.Close()
	_ = stack.sessions.Close()
	_ = stack.transports.Close()
}

func main() {
	log.SetLevel(log.WarnLevel)

	if len(os.Args) < 2 {
		printUsage()
	}

	switch os.Args[1] {
	case "ping":
		ping(os.Args[2:])

	case "watch":
		watch(os.Args[2:])

	default:
		printUsage()
	}
}

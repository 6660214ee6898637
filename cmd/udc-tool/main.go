// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/semc/semc-go/pkg/discovery"
	"github.com/semc/semc-go/pkg/protocols/udc"
	"github.com/semc/semc-go/pkg/transport"
	"github.com/semc/semc-go/pkg/transport/udp"
)

// printUsage of udc-tool and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s identify|announce|browse:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s identify host:port node-id instance-name\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Sends one identification declaration naming instance-name to the commissioner\n")
	_, _ = fmt.Fprintf(os.Stderr, "  listening at host:port.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s announce instance-name port\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Publishes the instance on the local network until interrupted, naming the\n")
	_, _ = fmt.Fprintf(os.Stderr, "  datagram port a commissioner may reach it on.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s browse [node-id]\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Prints announcements seen on the local network. If a node-id is given, every\n")
	_, _ = fmt.Fprintf(os.Stderr, "  announced instance is also answered with an identification declaration.\n\n")

	os.Exit(1)
}

// printFatal prints the error with its description and exits with an error code.
func printFatal(err error, description string) {
	_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", description, err)

	os.Exit(1)
}

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

// parseCommissioner interprets a host:port argument as a datagram PeerAddress.
func parseCommissioner(address string) (transport.PeerAddress, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return transport.PeerAddress{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return transport.PeerAddress{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return transport.PeerAddress{}, fmt.Errorf("cannot parse IP address %q", host)
	}

	return transport.UDP(ip, uint16(port)), nil
}

// identify for the "identify" CLI option.
func identify(args []string) {
	if len(args) != 3 {
		printUsage()
	}

	commissioner, err := parseCommissioner(args[0])
	if err != nil {
		printFatal(err, "Parsing the commissioner address errored")
	}

	nodeID, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		printFatal(err, "Parsing the node id errored")
	}

	transports := transport.NewManager()
	defer func() { _ = transports.Close() }()

	if err := transports.Register(udp.NewEndpoint(":0")); err != nil {
		printFatal(err, "Binding the datagram endpoint errored")
	}

	client := udc.NewClient(transports, nodeID)
	if err := client.SendIdentification(commissioner, args[2]); err != nil {
		printFatal(err, "Sending the identification declaration errored")
	}

	// The frame is fire-and-forget; give the endpoint a moment to flush.
	time.Sleep(100 * time.Millisecond)
}

// announce for the "announce" CLI option.
func announce(args []string) {
	if len(args) != 2 {
		printUsage()
	}

	port, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		printFatal(err, "Parsing the port errored")
	}

	announcements := []discovery.Announcement{
		{Kind: transport.KindUDP, Instance: args[0], Port: uint(port)},
	}

	manager, err := discovery.NewManager(args[0], nil, announcements, 2*time.Second, true, true)
	if err != nil {
		printFatal(err, "Starting the discovery manager errored")
	}

	waitSigint()
	manager.Close()
}

// browse for the "browse" CLI option.
func browse(args []string) {
	if len(args) > 1 {
		printUsage()
	}

	var notify discovery.NotifyFunc = func(announcement discovery.Announcement, address string) {
		fmt.Printf("%s\t%v://%s:%d\n",
			announcement.Instance, announcement.Kind, address, announcement.Port)
	}

	// With a node id, additionally answer each announcement.
	if len(args) == 1 {
		nodeID, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			printFatal(err, "Parsing the node id errored")
		}

		transports := transport.NewManager()
		if err := transports.Register(udp.NewEndpoint(":0")); err != nil {
			printFatal(err, "Binding the datagram endpoint errored")
		}
		client := udc.NewClient(transports, nodeID)

		print := notify
		notify = func(announcement discovery.Announcement, address string) {
			print(announcement, address)

			if announcement.Kind != transport.KindUDP {
				return
			}
			// IPv6 discovery addresses arrive bracketed.
			ip := net.ParseIP(strings.Trim(address, "[]"))
			if ip == nil {
				log.WithField("address", address).Warn("Skipping announcement with unusable address")
				return
			}

			peer := transport.UDP(ip, uint16(announcement.Port))
			if err := client.SendIdentification(peer, announcement.Instance); err != nil {
				log.WithError(err).Warn("Answering an announcement errored")
			}
		}
	}

	manager, err := discovery.NewManager("udc-tool", notify, nil, 10*time.Second, true, true)
	if err != nil {
		printFatal(err, "Starting the discovery manager errored")
	}

	waitSigint()
	manager.Close()
}

func main() {
	log.SetLevel(log.WarnLevel)

	if len(os.Args) < 2 {
		printUsage()
	}

	switch os.Args[1] {
	case "identify":
		identify(os.Args[2:])

	case "announce":
		announce(os.Args[2:])

	case "browse":
		browse(os.Args[2:])

	default:
		printUsage()
	}
}

// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"net"
	"strconv"
)

// CarrierKind enumerates the supported carrier types of an Endpoint or PeerAddress.
type CarrierKind uint

const (
	// KindUndefined is the zero CarrierKind, used for not-yet-known peers.
	KindUndefined CarrierKind = iota

	// KindUDP is the datagram carrier.
	KindUDP

	// KindTCP is the stream carrier.
	KindTCP

	// KindQUIC is the QUIC stream carrier.
	KindQUIC
)

func (kind CarrierKind) String() string {
	switch kind {
	case KindUDP:
		return "udp"
	case KindTCP:
		return "tcp"
	case KindQUIC:
		return "quic"
	default:
		return "undefined"
	}
}

// CheckValid errors for an unknown CarrierKind.
func (kind CarrierKind) CheckValid() error {
	if kind > KindQUIC {
		return fmt.Errorf("unknown CarrierKind %d", uint(kind))
	}
	return nil
}

// PeerAddress identifies a remote peer by carrier kind, network address and port.
// PeerAddresses are value types and immutable once constructed.
type PeerAddress struct {
	Kind CarrierKind
	IP   net.IP
	Port uint16
}

// UDP creates a PeerAddress for the datagram carrier.
func UDP(ip net.IP, port uint16) PeerAddress {
	return PeerAddress{Kind: KindUDP, IP: ip, Port: port}
}

// TCP creates a PeerAddress for the stream carrier.
func TCP(ip net.IP, port uint16) PeerAddress {
	return PeerAddress{Kind: KindTCP, IP: ip, Port: port}
}

// QUIC creates a PeerAddress for the QUIC carrier.
func QUIC(ip net.IP, port uint16) PeerAddress {
	return PeerAddress{Kind: KindQUIC, IP: ip, Port: port}
}

// IsUndefined reports whether this PeerAddress carries no usable target.
func (address PeerAddress) IsUndefined() bool {
	return address.Kind == KindUndefined
}

// NetworkAddress is the "host:port" representation used for dialing.
func (address PeerAddress) NetworkAddress() string {
	return net.JoinHostPort(address.IP.String(), strconv.Itoa(int(address.Port)))
}

// Equal compares two PeerAddresses field-wise.
func (address PeerAddress) Equal(other PeerAddress) bool {
	return address.Kind == other.Kind && address.IP.Equal(other.IP) && address.Port == other.Port
}

func (address PeerAddress) String() string {
	return fmt.Sprintf("%v://%s", address.Kind, address.NetworkAddress())
}

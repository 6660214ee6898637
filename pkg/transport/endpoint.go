// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"errors"

	"github.com/semc/semc-go/pkg/packet"
)

var (
	// ErrBind is wrapped by Endpoint Start failures, e.g., a port already in use or an
	// unsupported address family.
	ErrBind = errors.New("transport: could not bind local endpoint")

	// ErrConnection is wrapped by Send failures of stream carriers whose transparent
	// connection establishment was refused.
	ErrConnection = errors.New("transport: could not connect to peer")
)

// Endpoint is one bound carrier instance. Implementations own their OS socket resources
// and must release them on Close. At most one Endpoint per (carrier kind, port) may
// exist per process; concurrent reconfiguration is not supported.
type Endpoint interface {
	// Start binds the local endpoint and might return an error and a boolean
	// indicating if another Start should be tried later.
	Start() (error, bool)

	// Channel reports received frames and endpoint failures.
	Channel() chan Status

	// Address returns a unique address string to both identify this Endpoint and
	// ensure it will not be opened twice.
	Address() string

	// Close signals this Endpoint to shut down and release its socket resources.
	Close()
}

// Sender transmits framed bytes to a remote peer. An Endpoint that can also transmit
// implements this interface; Send takes over the Buffer's reference.
type Sender interface {
	Endpoint

	// Send enqueues an outbound frame for the given peer. This method must be thread
	// safe and finish transmitting one frame before acting on the next.
	Send(peer PeerAddress, buff *packet.Buffer) error
}

// StatusType indicates the kind of a Status.
type StatusType uint

const (
	_ StatusType = iota

	// ReceivedFrame shows the reception of a frame. The Status' Message must be a
	// StatusReceivedFrame struct.
	ReceivedFrame

	// EndpointFailed shows a failed Endpoint which should be restarted.
	EndpointFailed
)

func (st StatusType) String() string {
	switch st {
	case ReceivedFrame:
		return "Received Frame"
	case EndpointFailed:
		return "Endpoint Failed"
	default:
		return "Unknown Type"
	}
}

// Status allows transmission of information via a return channel from an Endpoint.
type Status struct {
	Sender      Endpoint
	MessageType StatusType
	Message     interface{}
}

// StatusReceivedFrame is the Message content of a Status for the ReceivedFrame type.
type StatusReceivedFrame struct {
	Peer  PeerAddress
	Frame *packet.Buffer
}

// NewStatusReceivedFrame creates a Status for a received frame, annotated with its
// source PeerAddress.
func NewStatusReceivedFrame(sender Endpoint, peer PeerAddress, frame *packet.Buffer) Status {
	return Status{
		Sender:      sender,
		MessageType: ReceivedFrame,
		Message: StatusReceivedFrame{
			Peer:  peer,
			Frame: frame,
		},
	}
}

// NewStatusEndpointFailed creates a Status for a failed Endpoint.
func NewStatusEndpointFailed(sender Endpoint) Status {
	return Status{
		Sender:      sender,
		MessageType: EndpointFailed,
	}
}

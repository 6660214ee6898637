// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udc

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/semc/semc-go/pkg/transport"
)

// Client announces the local node towards commissioners.
type Client struct {
	transports *transport.Manager
	nodeID     uint64

	counter uint32
}

// NewClient creates a Client announcing on behalf of the given node identity.
func NewClient(transports *transport.Manager, nodeID uint64) *Client {
	return &Client{
		transports: transports,
		nodeID:     nodeID,
	}
}

// SendIdentification emits one IdentificationDeclaration naming instanceName towards
// the commissioner's announcement endpoint.
func (client *Client) SendIdentification(commissioner transport.PeerAddress, instanceName string) error {
	counter := atomic.AddUint32(&client.counter, 1)

	buff, err := EncodeAnnouncement(client.nodeID, counter, instanceName)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"instance":     instanceName,
		"commissioner": commissioner,
	}).Info("UDC Client sends an identification declaration")

	return client.transports.Send(commissioner, buff)
}

// SPDX-FileCopyrightText: 2026 Markus Sommer
// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package echo

import (
	log "github.com/sirupsen/logrus"

	"github.com/semc/semc-go/pkg/exchange"
	"github.com/semc/semc-go/pkg/msg"
	"github.com/semc/semc-go/pkg/packet"
	"github.com/semc/semc-go/pkg/session"
)

// ResponseObserver consumes the outcome of a Client's request, either a response
// payload or a timeout after the exchange layer's retransmission policy ran out.
type ResponseObserver interface {
	EchoResponseReceived(key session.Key, payload []byte)
	EchoTimeout(key session.Key)
}

// Client sends echo requests over established sessions. Each request rides its own
// exchange; outcomes arrive at the ResponseObserver.
type Client struct {
	exchanges *exchange.Manager
	observer  ResponseObserver
}

// NewClient creates a Client reporting to the given observer.
func NewClient(exchanges *exchange.Manager, observer ResponseObserver) *Client {
	return &Client{
		exchanges: exchanges,
		observer:  observer,
	}
}

// SendEchoRequest sends one request on a fresh exchange over the session identified by
// key. The call returns once the request is on the wire; the response or timeout
// reaches the observer asynchronously.
func (client *Client) SendEchoRequest(key session.Key, payload []byte) error {
	ctx, err := client.exchanges.NewExchange(key, client)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"exchange": ctx,
		"length":   len(payload),
	}).Debug("Echo Client sends a request")

	return client.exchanges.SendMessage(ctx, msg.ProtocolEcho, msg.EchoRequest,
		packet.NewBufferData(payload), true)
}

// OnMessage delivers a response to the observer.
func (client *Client) OnMessage(ctx *exchange.Context, header msg.PayloadHeader, payload *packet.Buffer) {
	defer payload.Release()

	if header.MessageType != msg.EchoResponse {
		log.WithFields(log.Fields{
			"exchange": ctx,
			"type":     header.MessageType,
		}).Debug("Echo Client ignores a non-response message")
		return
	}

	if client.observer != nil {
		client.observer.EchoResponseReceived(ctx.SessionKey, append([]byte{}, payload.Bytes()...))
	}
}

// OnTimeout reports an unanswered request to the observer.
func (client *Client) OnTimeout(ctx *exchange.Context) {
	if client.observer != nil {
		client.observer.EchoTimeout(ctx.SessionKey)
	}
}

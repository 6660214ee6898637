// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// endpointElem is a wrapper around an Endpoint to assign a status, supervised by a
// Manager.
type endpointElem struct {
	// endpoint is the wrapped Endpoint.
	endpoint Endpoint

	// mutex protects critical parts.
	mutex sync.Mutex

	// statusChnl is the Manager's inChnl.
	statusChnl chan Status

	// ttl is used both for determining the activity and for counting-off.
	// A negative ttl implies an active endpointElem.
	ttl int

	// stop{Syn,Ack} are used to supervise closing this endpointElem, see deactivate()
	stopSyn chan struct{}
	stopAck chan struct{}
}

// newEndpointElem creates a new endpointElem for an Endpoint with an initial ttl value.
func newEndpointElem(endpoint Endpoint, statusChnl chan Status, ttl int) *endpointElem {
	return &endpointElem{
		endpoint:   endpoint,
		statusChnl: statusChnl,
		ttl:        ttl,
	}
}

// isActive returns if this endpointElem is wrapped around an active Endpoint.
func (ee *endpointElem) isActive() bool {
	return ee.ttl < 0
}

// handler supervises both stopping and Status forwarding to the Manager.
func (ee *endpointElem) handler() {
	for {
		select {
		case <-ee.stopSyn:
			log.WithFields(log.Fields{
				"endpoint": ee.endpoint.Address(),
			}).Debug("Closing Endpoint's handler")

			close(ee.stopAck)
			return

		case status := <-ee.endpoint.Channel():
			ee.statusChnl <- status
		}
	}
}

// activate tries to start this endpointElem. Both a success message and an indicator
// for a new attempt are returned.
func (ee *endpointElem) activate() (successful, retry bool) {
	if ee.isActive() {
		return
	}

	ee.mutex.Lock()
	defer ee.mutex.Unlock()

	if ee.ttl == 0 {
		log.WithFields(log.Fields{
			"endpoint": ee.endpoint.Address(),
			"error":    "TTL expired",
		}).Info("Failed to start Endpoint")

		return false, false
	}

	epErr, epRetry := ee.endpoint.Start()
	if epErr == nil {
		log.WithFields(log.Fields{
			"endpoint": ee.endpoint.Address(),
		}).Info("Started Endpoint")

		ee.ttl = -1

		ee.stopSyn = make(chan struct{})
		ee.stopAck = make(chan struct{})
		go ee.handler()

		return true, true
	}

	if ee.ttl > 0 {
		ee.ttl--
	}

	log.WithFields(log.Fields{
		"endpoint": ee.endpoint.Address(),
		"error":    epErr,
		"retry":    epRetry,
		"ttl":      ee.ttl,
	}).Info("Failed to start Endpoint")

	return false, epRetry && ee.ttl != 0
}

// deactivate this endpointElem and close its Endpoint.
func (ee *endpointElem) deactivate(ttl int) {
	if !ee.isActive() {
		return
	}

	ee.mutex.Lock()
	defer ee.mutex.Unlock()

	close(ee.stopSyn)
	<-ee.stopAck

	ee.ttl = ttl
	ee.endpoint.Close()
}

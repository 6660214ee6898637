// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/semc/semc-go/pkg/session"
)

// outcome of a single echo request, exactly one of payload or timeout.
type outcome struct {
	payload []byte
	timeout bool
}

// chanObserver forwards each request's outcome into a channel.
type chanObserver struct {
	outcomes chan outcome
}

func (observer *chanObserver) EchoResponseReceived(_ session.Key, payload []byte) {
	observer.outcomes <- outcome{payload: payload}
}

func (observer *chanObserver) EchoTimeout(_ session.Key) {
	observer.outcomes <- outcome{timeout: true}
}

// ping sends one echo request for the "ping" CLI option.
func ping(args []string) {
	if len(args) != 5 && len(args) != 6 {
		printUsage()
	}

	payload := []byte("ping")
	if len(args) == 6 {
		payload = []byte(args[5])
	}

	observer := &chanObserver{outcomes: make(chan outcome, 1)}

	stack, err := startStack(args[0], args[1], args[2], args[3], args[4], observer)
	if err != nil {
		printFatal(err, "Starting the requester stack errored")
	}
	defer stack.close()

	if err := stack.client.SendEchoRequest(stack.key, payload); err != nil {
		printFatal(err, "Sending the echo request errored")
	}

	result := <-observer.outcomes
	if result.timeout {
		_, _ = fmt.Fprintln(os.Stderr, "timeout")
		os.Exit(1)
	}

	fmt.Printf("%s\n", result.payload)
}

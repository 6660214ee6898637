// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"

	"github.com/semc/semc-go/pkg/session"
)

// spool sends every file dropped into a directory as an echo request.
type spool struct {
	directory  string
	knownFiles sync.Map
	stack      *requesterStack
	watcher    *fsnotify.Watcher

	closeChan chan os.Signal
}

// EchoResponseReceived prints a response outcome.
func (sp *spool) EchoResponseReceived(_ session.Key, payload []byte) {
	fmt.Printf("%s\n", payload)
}

// EchoTimeout prints a timeout outcome.
func (sp *spool) EchoTimeout(_ session.Key) {
	_, _ = fmt.Fprintln(os.Stderr, "timeout")
}

// watch a directory for the "watch" CLI option.
func watch(args []string) {
	if len(args) != 6 {
		printUsage()
	}

	sp := &spool{
		directory: args[5],
		closeChan: make(chan os.Signal),
	}

	signal.Notify(sp.closeChan, os.Interrupt)

	var err error
	if sp.stack, err = startStack(args[0], args[1], args[2], args[3], args[4], sp); err != nil {
		printFatal(err, "Starting the requester stack errored")
	}

	if sp.watcher, err = fsnotify.NewWatcher(); err != nil {
		printFatal(err, "Starting file watcher errored")
	}
	if err = sp.watcher.Add(sp.directory); err != nil {
		printFatal(err, "Adding directory to file watcher errored")
	}

	sp.handler()
}

// cleanFilepath creates a relative path from the spool directory to a new file's path.
func (sp *spool) cleanFilepath(f string) string {
	rel, err := filepath.Rel(sp.directory, f)
	if err != nil {
		log.WithField("path", f).WithError(err).Fatal("Failed to clean file path")
		return ""
	}
	return rel
}

func (sp *spool) handler() {
	defer func() {
		_ = sp.watcher.Close()
		sp.stack.close()
	}()

	for {
		select {
		case <-sp.closeChan:
			log.Info("Received interrupt signal")
			return

		case e, ok := <-sp.watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if _, ok := sp.knownFiles.Load(sp.cleanFilepath(e.Name)); ok {
				log.WithField("file", e.Name).Debug("Skipping file; already known")
				continue
			}

			if e.Op&fsnotify.Create == 0 {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}

			sp.sendNewFile(e)

		case err, ok := <-sp.watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}
			log.WithError(err).Error("fsnotify errored")
		}
	}
}

// sendNewFile reads a newly created file and sends its content as an echo request.
func (sp *spool) sendNewFile(e fsnotify.Event) {
	sp.knownFiles.Store(sp.cleanFilepath(e.Name), struct{}{})

	payload, err := ioutil.ReadFile(e.Name)
	if err != nil {
		log.WithField("file", e.Name).WithError(err).Error("Reading new file errored")
		return
	}

	if err := sp.stack.client.SendEchoRequest(sp.stack.key, payload); err != nil {
		log.WithField("file", e.Name).WithError(err).Error("Sending the echo request errored")
	}
}

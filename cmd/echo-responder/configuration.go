// SPDX-FileCopyrightText: 2026 Alvar Penning
// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"
)

// udcPortOffset separates the unauthenticated announcement port from the primary one.
const udcPortOffset = 3

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Node      nodeConf
	Logging   logConf
	Transport transportConf
	Session   sessionConf
	Exchange  exchangeConf
	Counter   counterConf
	Pairing   pairingConf
	Monitor   monitorConf
	Profiling profilingConf
}

// nodeConf describes the Node-configuration block.
type nodeConf struct {
	Id             uint64
	Scope          uint16
	FabricCapacity int    `toml:"fabric-capacity"`
	Store          string // optional persistence directory
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// transportConf describes the Transport-configuration block.
type transportConf struct {
	Host string
	Port uint16
}

// sessionConf describes the Session-configuration block.
type sessionConf struct {
	WindowSize      int    `toml:"window-size"`
	WindowTolerance uint32 `toml:"window-tolerance"`
}

// exchangeConf describes the Exchange-configuration block.
type exchangeConf struct {
	ResponseTimeout    string `toml:"response-timeout"`
	MaxRetransmissions int    `toml:"max-retransmissions"`
}

// counterConf describes the Counter-configuration block for resynchronization.
type counterConf struct {
	MaxAttempts   int `toml:"max-attempts"`
	ChallengeSize int `toml:"challenge-size"`
}

// pairingConf describes the Pairing-configuration block, inserting one session
// against a pre-shared secret at startup.
type pairingConf struct {
	PeerNode uint64 `toml:"peer-node"`
	PeerHost string `toml:"peer-host"`
	PeerPort uint16 `toml:"peer-port"`
	Secret   string
	Role     string
}

// monitorConf describes the Monitor-configuration block.
type monitorConf struct {
	Listen string
}

// profilingConf describes the Profiling-configuration block.
type profilingConf struct {
	Enabled bool
}

// loadConfiguration reads a tomlConfig from a file and applies its Logging block. An
// empty filename yields the defaults.
func loadConfiguration(filename string) (conf tomlConfig, err error) {
	conf = tomlConfig{
		Node: nodeConf{
			Id:             1,
			FabricCapacity: 16,
		},
		Transport: transportConf{
			Host: "",
			Port: 4765,
		},
		Session: sessionConf{
			WindowSize:      32,
			WindowTolerance: 64,
		},
		Exchange: exchangeConf{
			ResponseTimeout:    "2s",
			MaxRetransmissions: 2,
		},
		Counter: counterConf{
			MaxAttempts:   3,
			ChallengeSize: 8,
		},
	}

	if filename != "" {
		if _, err = toml.DecodeFile(filename, &conf); err != nil {
			return
		}
	}

	// Logging
	if conf.Logging.Level != "" {
		if lvl, lvlErr := log.ParseLevel(conf.Logging.Level); lvlErr != nil {
			log.WithFields(log.Fields{
				"level":    conf.Logging.Level,
				"error":    lvlErr,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.Logging.ReportCaller)

	switch conf.Logging.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}

	return
}

// primaryAddress is the session-bearing listen address.
func (conf tomlConfig) primaryAddress() string {
	return fmt.Sprintf("%s:%d", conf.Transport.Host, conf.Transport.Port)
}

// udcAddress is the announcement listen address, a fixed offset above the primary
// port.
func (conf tomlConfig) udcAddress() string {
	return fmt.Sprintf("%s:%d", conf.Transport.Host, conf.Transport.Port+udcPortOffset)
}

// responseTimeout parses the Exchange block's duration.
func (conf tomlConfig) responseTimeout() (time.Duration, error) {
	return time.ParseDuration(conf.Exchange.ResponseTimeout)
}

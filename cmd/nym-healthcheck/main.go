// main.go - mixnet health check tool
// Copyright (C) 2019  David Anthony Stainton
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package main provides a one-shot mixnet health audit
package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"github.com/op/go-logging"

	"github.com/sahith-narahari/nym/directory"
	"github.com/sahith-narahari/nym/healthcheck"
)

var log = logging.MustGetLogger("nym")

var logFormat = logging.MustStringFormatter(
	"%{level:.4s} %{id:03x} %{message}",
)
var ttyFormat = logging.MustStringFormatter(
	"%{color}%{time:15:04:05} ▶ %{level:.4s} %{id:03x}%{color:reset} %{message}",
)

const ioctlReadTermios = 0x5401

func isTerminal(fd int) bool {
	var termios syscall.Termios
	_, _, err := syscall.Syscall6(syscall.SYS_IOCTL, uintptr(fd), ioctlReadTermios, uintptr(unsafe.Pointer(&termios)), 0, 0, 0)
	return err == 0
}

func stringToLogLevel(level string) (logging.Level, error) {
	switch level {
	case "DEBUG":
		return logging.DEBUG, nil
	case "INFO":
		return logging.INFO, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "WARNING":
		return logging.WARNING, nil
	case "ERROR":
		return logging.ERROR, nil
	case "CRITICAL":
		return logging.CRITICAL, nil
	}
	return -1, fmt.Errorf("invalid logging level %s", level)
}

func setupLoggerBackend(level logging.Level) logging.LeveledBackend {
	format := logFormat
	if isTerminal(int(os.Stderr.Fd())) {
		format = ttyFormat
	}
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.NewBackendFormatter(backend, format)
	leveler := logging.AddModuleLevel(formatter)
	leveler.SetLevel(level, "nym")
	return leveler
}

func main() {
	var configFilePath string
	var logLevel string

	flag.StringVar(&configFilePath, "config", "", "configuration file")
	flag.StringVar(&logLevel, "log_level", "INFO", "logging level could be set to: DEBUG, INFO, NOTICE, WARNING, ERROR, CRITICAL")
	flag.Parse()

	if configFilePath == "" {
		log.Error("you must specify a configuration file")
		flag.Usage()
		os.Exit(1)
	}

	level, err := stringToLogLevel(logLevel)
	if err != nil {
		log.Critical("Invalid logging-level specified.")
		os.Exit(1)
	}
	logging.SetBackend(setupLoggerBackend(level))

	cfg, err := healthcheck.ConfigFromFile(configFilePath)
	if err != nil {
		log.Criticalf("failed to load configuration: %v", err)
		os.Exit(1)
	}

	snapshot, err := directory.FetchTopology(cfg.DirectoryServer)
	if err != nil {
		log.Criticalf("failed to retrieve network topology: %v", err)
		os.Exit(1)
	}

	result, err := healthcheck.Calculate(snapshot, cfg.Iterations, cfg.ResolutionTimeout())
	if err != nil {
		log.Criticalf("health check failed: %v", err)
		os.Exit(1)
	}
	result.SortScores()
	fmt.Print(result)

	filtered := result.FilterTopologyByScore(snapshot, cfg.ScoreThreshold)
	fmt.Printf("%d/%d mix nodes and %d/%d providers score above %.2f\n",
		len(filtered.MixNodes()), len(snapshot.MixNodes()),
		len(filtered.ProviderNodes()), len(snapshot.ProviderNodes()),
		cfg.ScoreThreshold)
}

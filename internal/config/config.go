// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml"
)

// DefaultPath is read when no configuration file is given explicitly.
const DefaultPath = "/etc/gnssctl.conf"

type Config struct {
	DaemonHost string `toml:"daemon_host"`
	DaemonPort int    `toml:"daemon_port"`
	DevicePath string `toml:"device_path"`
	BaudRate   int    `toml:"device_baud_rate"`
	// Timeout is the packet recognition timeout in seconds, 0 for none
	Timeout int    `toml:"timeout"`
	Debug   int    `toml:"debug"`
	LogFile string `toml:"log_file"`
}

func Default() *Config {
	return &Config{
		DaemonHost: "localhost",
		DaemonPort: 2947,
		BaudRate:   4800,
		Timeout:    8,
	}
}

// Parse reads file over the defaults. When file is DefaultPath and it does
// not exist, the defaults are returned.
func Parse(file string) (c *Config, err error) {
	c = Default()

	contents, err := os.ReadFile(file)
	if err != nil {
		if file == DefaultPath && errors.Is(err, fs.ErrNotExist) {
			return c, nil
		}
		err = fmt.Errorf("config.Parse(): %w", err)
		return
	}

	if err = toml.Unmarshal(contents, c); err != nil {
		err = fmt.Errorf("config.Parse(): %w", err)
		return
	}

	if c.DaemonPort <= 0 || c.DaemonPort > 65535 {
		err = fmt.Errorf("config.Parse(): invalid daemon_port %d", c.DaemonPort)
	} else if c.Timeout < 0 {
		err = fmt.Errorf("config.Parse(): invalid timeout %d", c.Timeout)
	}
	return
}

// DaemonAddr is the host:port of the location daemon.
func (c *Config) DaemonAddr() string {
	return net.JoinHostPort(c.DaemonHost, strconv.Itoa(c.DaemonPort))
}

func (c *Config) RecognitionTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

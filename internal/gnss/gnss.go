// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package gnss

import (
	"errors"
	"fmt"
	"io"
	"strings"

	gonmea "github.com/adrianmo/go-nmea"

	"gitlab.com/postmarketOS/gnssctl/internal/packet"
)

// Mode is the protocol a receiver emits.
type Mode int

const (
	ModeNMEA Mode = iota
	ModeBinary
)

func (m Mode) String() string {
	if m == ModeBinary {
		return "BINARY"
	}
	return "NMEA"
}

// Driver is the capability table for one class of receiver. Every
// capability may be nil, independently of the others.
type Driver struct {
	Name string
	// Native is the packet family the receiver speaks in its own mode.
	Native packet.Family
	// Trigger is a sentence prefix that only this class of receiver emits.
	Trigger string
	// Banner is a fragment of the TXT sentence this receiver sends at boot.
	Banner string

	ModeSwitcher  func(d *Device, mode Mode) error
	SpeedSwitcher func(d *Device, baud int, parity byte, stopBits int) error
	RateSwitcher  func(d *Device, cycle float64) error
	ControlSend   func(d *Device, msg []byte) error

	// Probe is called for each text packet while the driver is bound and may
	// write queries that make a more specific receiver reveal itself.
	Probe func(d *Device, seq int)
	// Identify lets the driver pick a subtype out of a packet.
	Identify func(d *Device, p packet.Packet)
}

var ErrNoMatch = errors.New("no driver type name matches")

type AmbiguousError struct {
	Pattern string
	Count   int
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%d driver type names match %q", e.Count, e.Pattern)
}

type Catalog struct {
	drivers []*Driver
}

func NewCatalog(drivers ...*Driver) *Catalog {
	return &Catalog{drivers: drivers}
}

// Default holds every driver this tool knows about. The generic driver
// comes first.
var Default = NewCatalog(GenericNMEA, SiRFBinary, UBlox, Teseo)

func (c *Catalog) Drivers() []*Driver {
	return c.drivers
}

func (c *Catalog) Lookup(name string) *Driver {
	for _, drv := range c.drivers {
		if drv.Name == name {
			return drv
		}
	}
	return nil
}

// Match finds the single driver whose name contains pattern.
func (c *Catalog) Match(pattern string) (*Driver, error) {
	var found *Driver
	count := 0
	for _, drv := range c.drivers {
		if strings.Contains(drv.Name, pattern) {
			found = drv
			count++
		}
	}
	switch count {
	case 0:
		return nil, fmt.Errorf("gnss/Catalog.Match: %w %q", ErrNoMatch, pattern)
	case 1:
		return found, nil
	}
	return nil, &AmbiguousError{Pattern: pattern, Count: count}
}

// List writes one line per driver, flagging the options each one supports.
func (c *Catalog) List(w io.Writer) {
	flag := func(ok bool, s string) string {
		if ok {
			return s + "\t"
		}
		return "\t"
	}
	for _, drv := range c.drivers {
		fmt.Fprintf(w, "%s%s%s%s%s\n",
			flag(drv.ModeSwitcher != nil, "-[bn]"),
			flag(drv.SpeedSwitcher != nil, "-s"),
			flag(drv.RateSwitcher != nil, "-c"),
			flag(drv.ControlSend != nil, "-x"),
			drv.Name)
	}
}

func (c *Catalog) byFamily(f packet.Family) *Driver {
	for _, drv := range c.drivers {
		if drv.Native == f && f != packet.NMEA {
			return drv
		}
	}
	return nil
}

// triggered returns the driver revealed by a text sentence, if any.
func (c *Catalog) triggered(sentence string) *Driver {
	for _, drv := range c.drivers {
		if drv.Trigger != "" && strings.HasPrefix(sentence, drv.Trigger) {
			return drv
		}
	}

	s, err := gonmea.Parse(sentence)
	if err != nil {
		return nil
	}
	txt, ok := s.(gonmea.TXT)
	if !ok {
		return nil
	}
	for _, drv := range c.drivers {
		if drv.Banner != "" && strings.Contains(txt.Message, drv.Banner) {
			return drv
		}
	}
	return nil
}

// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package gnss

import (
	"fmt"
	"io"
	"time"

	"github.com/tevino/abool/v2"
	"go.uber.org/zap"

	"gitlab.com/postmarketOS/gnssctl/internal/hunt"
	"gitlab.com/postmarketOS/gnssctl/internal/packet"
	"gitlab.com/postmarketOS/gnssctl/internal/tty"
)

// garbageLimit is how many unparseable bytes are tolerated before the line
// is moved to the next hunt speed.
const garbageLimit = 600

// Session is the process-wide state shared by every component of one run.
type Session struct {
	Log     *zap.Logger
	Timeout time.Duration

	readOnly *abool.AtomicBool
}

func NewSession(log *zap.Logger, timeout time.Duration) *Session {
	return &Session{
		Log:      log,
		Timeout:  timeout,
		readOnly: abool.New(),
	}
}

// ReadOnly reports whether writes to the device are being suppressed.
func (s *Session) ReadOnly() bool {
	return s.readOnly.IsSet()
}

func (s *Session) SetReadOnly(ro bool) {
	s.readOnly.SetTo(ro)
}

// Writable runs f with writes enabled and restores the previous setting.
func (s *Session) Writable(f func() error) error {
	prev := s.readOnly.IsSet()
	s.readOnly.UnSet()
	defer s.readOnly.SetTo(prev)
	return f()
}

// Device is the one receiver an invocation operates on.
type Device struct {
	Path     string
	Session  *Session
	Port     tty.Port
	Baud     int
	Parity   byte
	StopBits int
	Driver   *Driver
	Subtype  string
	Mode     Mode

	catalog *Catalog
	lexer   packet.Lexer
	out     io.Writer
	echo    bool
	// text packets handled by the current driver, for probe sequencing
	seq int
}

func NewDevice(path string, s *Session, c *Catalog) *Device {
	return &Device{
		Path:     path,
		Session:  s,
		Parity:   'N',
		StopBits: 1,
		catalog:  c,
	}
}

// Attach binds an open port to the device and adopts its line settings.
func (d *Device) Attach(p tty.Port) {
	d.Port = p
	d.out = p
	d.Baud, d.Parity, d.StopBits = p.Speed()
}

// Echo redirects everything the drivers write to w instead of the device.
func (d *Device) Echo(w io.Writer) {
	d.out = w
	d.echo = true
}

func (d *Device) Input() hunt.Input {
	return hunt.Input{Name: d.Path, R: d.Port}
}

// ID is the full identity of the device for reports, including subtype.
func (d *Device) ID() string {
	if d.Driver == nil {
		return "unknown"
	}
	if d.Subtype != "" {
		return d.Driver.Name + " " + d.Subtype
	}
	return d.Driver.Name
}

// SwitchDriver binds the named catalog driver. It reports whether the
// driver changed.
func (d *Device) SwitchDriver(name string) bool {
	drv := d.catalog.Lookup(name)
	if drv == nil || drv == d.Driver {
		return false
	}
	d.bind(drv)
	return true
}

func (d *Device) bind(drv *Driver) {
	if drv == d.Driver {
		return
	}
	d.Session.Log.Info("selecting driver", zap.String("device", d.Path), zap.String("driver", drv.Name))
	d.Driver = drv
	d.Subtype = ""
	d.seq = 0
}

// Write sends b to the device, or to the echo target. While the session is
// read-only nothing is sent and the write reports success.
func (d *Device) Write(b []byte) (n int, err error) {
	if d.Session.ReadOnly() {
		d.Session.Log.Debug("write suppressed", zap.String("device", d.Path), zap.Binary("data", b))
		return len(b), nil
	}
	if d.out == nil {
		return 0, fmt.Errorf("gnss/Device.Write: %s is not open", d.Path)
	}
	d.Session.Log.Debug("write", zap.String("device", d.Path), zap.Binary("data", b))
	n, err = d.out.Write(b)
	if err != nil {
		err = fmt.Errorf("gnss/Device.Write: %w", err)
	}
	return
}

// SetSpeed changes the local line settings. When echoing, only the recorded
// settings change.
func (d *Device) SetSpeed(baud int, parity byte, stopBits int) (err error) {
	if d.Port != nil && !d.echo {
		if err = d.Port.SetSpeed(baud, parity, stopBits); err != nil {
			return fmt.Errorf("gnss/Device.SetSpeed: %w", err)
		}
	}
	d.Baud, d.Parity, d.StopBits = baud, parity, stopBits
	return
}

// Drain waits for queued output to leave the port.
func (d *Device) Drain() error {
	if d.Port == nil || d.echo {
		return nil
	}
	return d.Port.Drain()
}

// listening reports whether replies to what is written can be read back.
func (d *Device) listening() bool {
	return d.Port != nil && !d.echo && !d.Session.ReadOnly()
}

// Native implements hunt.Poller.
func (d *Device) Native() packet.Family {
	if d.Driver == nil {
		return packet.Unknown
	}
	return d.Driver.Native
}

// Poll implements hunt.Poller: it classifies a chunk read from the device.
// The packets are acted on later, one at a time, through Handle.
func (d *Device) Poll(c hunt.Chunk) (res hunt.Result) {
	if c.Err != nil {
		d.Session.Log.Warn("read failed", zap.String("input", c.Source), zap.Error(c.Err))
		if c.Source == d.Path {
			res.Status = hunt.Error
		} else {
			res.Status = hunt.Unready
		}
		return
	}

	res.Packets = d.lexer.Feed(c.Data)
	if len(res.Packets) == 0 && d.lexer.Garbage() > garbageLimit {
		d.nextHuntSetting()
	}
	return
}

// Handle implements hunt.Poller. It binds the driver a packet reveals, lets
// that driver identify the device and sends the next subtype probe.
func (d *Device) Handle(p packet.Packet) {
	d.Session.Log.Debug("packet", zap.Stringer("family", p.Family), zap.Int("len", len(p.Raw)))

	switch p.Family {
	case packet.NMEA:
		d.Mode = ModeNMEA
		sentence := p.Sentence()
		if drv := d.catalog.triggered(sentence); drv != nil {
			d.bind(drv)
		} else if d.Driver == nil {
			d.bind(d.catalog.drivers[0])
		}
	default:
		d.Mode = ModeBinary
		if drv := d.catalog.byFamily(p.Family); drv != nil {
			d.bind(drv)
		}
	}

	if d.Driver == nil {
		return
	}
	if d.Driver.Identify != nil {
		d.Driver.Identify(d, p)
	}
	if p.Family == packet.NMEA && d.Driver.Probe != nil {
		d.Driver.Probe(d, d.seq)
	}
	if p.Family == packet.NMEA {
		d.seq++
	}
}

// hunter is implemented by ports that can step through line speeds.
type hunter interface {
	NextHuntSetting() (int, error)
}

func (d *Device) nextHuntSetting() {
	h, ok := d.Port.(hunter)
	if !ok {
		return
	}
	baud, err := h.NextHuntSetting()
	if err != nil {
		d.Session.Log.Warn("speed hunt failed", zap.String("device", d.Path), zap.Error(err))
		return
	}
	d.Baud, d.Parity, d.StopBits = baud, 'N', 1
	d.lexer.Reset()
	d.Session.Log.Info("hunting", zap.String("device", d.Path), zap.Int("baud", baud))
}

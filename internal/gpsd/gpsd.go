// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

// Package gpsd is a client for the command channel of a running gpsd.
package gpsd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Mask is a set of properties carried by one daemon report. The bit values
// are the ones the daemon's own client library uses.
type Mask uint32

// NonError accepts any report that is not an error. It is distinct from
// every real property set.
const NonError Mask = 0

const (
	OnlineSet     Mask = 1 << 1
	TimeSet       Mask = 1 << 2
	LatLonSet     Mask = 1 << 4
	ModeSet       Mask = 1 << 10
	SatelliteSet  Mask = 1 << 15
	DeviceSet     Mask = 1 << 19
	DeviceListSet Mask = 1 << 20
	DeviceIDSet   Mask = 1 << 21
	VersionSet    Mask = 1 << 28
	PolicySet     Mask = 1 << 29
	ErrorSet      Mask = 1 << 30
)

// DefaultPollInterval bounds a single wait inside Query.
const DefaultPollInterval = 2 * time.Second

var (
	ErrTimeout = errors.New("timed out waiting for the daemon")
	// ErrFatal means the connection can no longer be trusted.
	ErrFatal = errors.New("daemon connection failed")
)

// Error is an ERROR report from the daemon.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("daemon error %q", e.Message)
}

// DeviceConfig describes one device the daemon manages.
type DeviceConfig struct {
	Path      string  `json:"path"`
	Activated string  `json:"activated,omitempty"`
	Driver    string  `json:"driver,omitempty"`
	Subtype   string  `json:"subtype,omitempty"`
	BPS       int     `json:"bps,omitempty"`
	Parity    string  `json:"parity,omitempty"`
	StopBits  int     `json:"stopbits,omitempty"`
	Native    int     `json:"native,omitempty"`
	Cycle     float64 `json:"cycle,omitempty"`
	MinCycle  float64 `json:"mincycle,omitempty"`
}

// Data is the state accumulated from the most recent report.
type Data struct {
	Set     Mask
	Dev     DeviceConfig
	Devices []DeviceConfig
	Release string
	Error   string
}

// report is the union of every class this client understands.
type report struct {
	Class   string         `json:"class"`
	Devices []DeviceConfig `json:"devices"`
	Release string         `json:"release"`
	Message string         `json:"message"`
	Mode    int            `json:"mode"`
	Time    string         `json:"time"`
	Lat     *float64       `json:"lat"`
	DeviceConfig
}

// DeviceCommand is the body of a ?DEVICE= command.
type DeviceCommand struct {
	Path     string  `json:"path"`
	Native   *int    `json:"native,omitempty"`
	BPS      int     `json:"bps,omitempty"`
	Parity   string  `json:"parity,omitempty"`
	StopBits int     `json:"stopbits,omitempty"`
	Cycle    float64 `json:"cycle,omitempty"`
}

func (d DeviceCommand) String() string {
	b, err := json.Marshal(d)
	if err != nil {
		// only plain fields, cannot fail
		panic(err)
	}
	return "?DEVICE=" + string(b)
}

// WatchCommand enables JSON streaming of reports.
const WatchCommand = `?WATCH={"enable":true,"json":true}`

type line struct {
	text []byte
	err  error
}

// Conn is a command connection to the daemon.
type Conn struct {
	Data         Data
	PollInterval time.Duration
	Log          *zap.Logger

	conn  net.Conn
	lines chan line
}

// Dial connects to the daemon at addr (host:port).
func Dial(ctx context.Context, addr string, log *zap.Logger) (c *Conn, err error) {
	dialer := &net.Dialer{}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		err = fmt.Errorf("gpsd.Dial: %w", err)
		return
	}
	c = NewConn(nc, log)
	return
}

// NewConn wraps an established connection and starts reading from it.
func NewConn(nc net.Conn, log *zap.Logger) *Conn {
	c := &Conn{
		PollInterval: DefaultPollInterval,
		Log:          log,
		conn:         nc,
		lines:        make(chan line),
	}
	go c.readLines()
	return c
}

func (c *Conn) readLines() {
	defer close(c.lines)
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		text := make([]byte, len(scanner.Bytes()))
		copy(text, scanner.Bytes())
		c.lines <- line{text: text}
	}
	err := scanner.Err()
	if err == nil {
		err = errors.New("connection closed by daemon")
	}
	c.lines <- line{err: err}
}

func (c *Conn) Close() error {
	err := c.conn.Close()
	// unblock the reader
	go func() {
		for range c.lines {
		}
	}()
	return err
}

// Send writes one command line, appending the newline if it is missing.
func (c *Conn) Send(cmd string) (err error) {
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	c.Log.Info("sending", zap.String("command", strings.TrimSpace(cmd)))
	if _, err = c.conn.Write([]byte(cmd)); err != nil {
		err = fmt.Errorf("gpsd/Conn.Send: %w: %v", ErrFatal, err)
	}
	return
}

// Watch turns on report streaming.
func (c *Conn) Watch() error {
	return c.Send(WatchCommand)
}

// Read waits for the next report and unpacks it into Data.
func (c *Conn) Read(ctx context.Context) (err error) {
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case l, ok := <-c.lines:
		_, err = c.consume(l, ok)
		return
	}
}

// consume unpacks one line from the reader. parsed is false for lines that
// are not JSON.
func (c *Conn) consume(l line, ok bool) (parsed bool, err error) {
	if !ok {
		return false, fmt.Errorf("gpsd/Conn.consume: %w: connection closed", ErrFatal)
	}
	if l.err != nil {
		return false, fmt.Errorf("gpsd/Conn.consume: %w: %v", ErrFatal, l.err)
	}
	return c.unpack(l.text), nil
}

// unpack replaces Set with the properties of one report.
func (c *Conn) unpack(text []byte) bool {
	c.Data.Set = 0
	var r report
	if err := json.Unmarshal(text, &r); err != nil {
		c.Log.Debug("unparseable report", zap.ByteString("line", text), zap.Error(err))
		return false
	}
	c.Log.Debug("report", zap.String("class", r.Class))

	switch r.Class {
	case "VERSION":
		c.Data.Release = r.Release
		c.Data.Set = VersionSet
	case "DEVICES":
		c.Data.Devices = r.Devices
		c.Data.Set = DeviceListSet
	case "DEVICE":
		c.Data.Dev = r.DeviceConfig
		c.Data.Set = DeviceSet
	case "WATCH":
		c.Data.Set = PolicySet
	case "ERROR":
		c.Data.Error = r.Message
		c.Data.Set = ErrorSet
	case "TPV":
		c.Data.Set = OnlineSet | ModeSet
		if r.Time != "" {
			c.Data.Set |= TimeSet
		}
		if r.Lat != nil {
			c.Data.Set |= LatLonSet
		}
	case "SKY":
		c.Data.Set = OnlineSet | SatelliteSet
	}
	return true
}

// Query ships a command and waits until a report whose properties
// intersect expect arrives, or, with NonError, any report that is not an
// error. An ERROR report fails the query at once with *Error. ErrTimeout is
// returned once timeout has elapsed without a match; the check runs at
// least every PollInterval.
func (c *Conn) Query(ctx context.Context, expect Mask, timeout time.Duration, format string, args ...interface{}) (err error) {
	if err = c.Send(fmt.Sprintf(format, args...)); err != nil {
		return fmt.Errorf("gpsd/Conn.Query: %w", err)
	}

	start := time.Now()
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		c.Log.Debug("waiting")
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
		case l, ok := <-c.lines:
			parsed, err := c.consume(l, ok)
			if err != nil {
				return fmt.Errorf("gpsd/Conn.Query: %w", err)
			}
			if c.Data.Set&ErrorSet != 0 {
				c.Log.Error("daemon error", zap.String("error", c.Data.Error))
				return &Error{Message: c.Data.Error}
			}
			if parsed && (expect == NonError || expect&c.Data.Set != 0) {
				return nil
			}
		}
		if elapsed := time.Since(start); elapsed > timeout {
			c.Log.Error("timed out", zap.Duration("after", elapsed))
			return fmt.Errorf("gpsd/Conn.Query: %w after %s", ErrTimeout, timeout)
		}
	}
}

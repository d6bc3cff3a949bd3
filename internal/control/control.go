// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

// Package control decides whether a receiver is reconfigured through the
// location daemon or by talking to the device directly, and carries the
// requested actions out.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gitlab.com/postmarketOS/gnssctl/internal/gnss"
	"gitlab.com/postmarketOS/gnssctl/internal/gpsd"
	"gitlab.com/postmarketOS/gnssctl/internal/tty"
)

// ErrConfig marks problems with the requested options. They are detected
// before any device is touched.
var ErrConfig = errors.New("invalid configuration")

// Interrupted is the cancellation cause used when the operator stops the
// run with a signal. It is not a failure.
type Interrupted struct {
	Signal os.Signal
}

func (i *Interrupted) Error() string {
	return fmt.Sprintf("killed by signal %s", i.Signal)
}

// ExitStatus maps the result of Run onto a process exit code.
func ExitStatus(status int, err error) int {
	if err == nil {
		return status
	}
	var interrupted *Interrupted
	if errors.As(err, &interrupted) {
		return 0
	}
	return 1
}

// Options are the operator's requests for one run.
type Options struct {
	Device string
	// Type is a fragment of a driver name to force.
	Type string
	// Speed is rate[:WPS].
	Speed string
	// Rate is the new fix cycle in seconds.
	Rate    string
	Control string

	ToNMEA   bool
	ToBinary bool
	Reset    bool
	Echo     bool
	Direct   bool

	// Timeout bounds packet recognition and each daemon query. Zero means
	// recognition waits as long as it takes.
	Timeout    time.Duration
	DaemonAddr string
	// Baud is the speed the device is first opened at.
	Baud int
}

type Controller struct {
	Options
	Log     *zap.Logger
	Catalog *gnss.Catalog
	Stdout  io.Writer

	Dial func(ctx context.Context, addr string) (*gpsd.Conn, error)
	Open func(path string, baud int) (tty.Port, error)

	session *gnss.Session
	forced  *gnss.Driver
	speed   *SpeedSpec
	cycle   float64
	control []byte
}

func New(opts Options, log *zap.Logger) *Controller {
	return &Controller{
		Options: opts,
		Log:     log,
		Catalog: gnss.Default,
		Stdout:  os.Stdout,
		Dial: func(ctx context.Context, addr string) (*gpsd.Conn, error) {
			return gpsd.Dial(ctx, addr, log)
		},
		Open: func(path string, baud int) (tty.Port, error) {
			return tty.Open(path, baud)
		},
	}
}

// Run performs the requested actions. status is 1 when an action could not
// be carried out; err is set when the run had to be abandoned.
func (c *Controller) Run(ctx context.Context) (status int, err error) {
	if err = c.prepare(); err != nil {
		return 1, fmt.Errorf("control/Controller.Run: %w", err)
	}
	c.session = gnss.NewSession(c.Log, c.Timeout)

	if !c.Direct {
		var conn *gpsd.Conn
		conn, err = c.Dial(ctx, c.DaemonAddr)
		if err == nil {
			defer conn.Close()
			return c.runDaemon(ctx, conn)
		}
		c.Log.Error("no daemon running or network error", zap.Error(err))
		err = nil
	}

	if c.Reset {
		return c.runReset(ctx)
	}
	return c.runDirect(ctx)
}

// Exec is Run for the top level of a process: it returns as soon as ctx is
// cancelled, even while Run is stuck on a device that stopped accepting
// writes.
func (c *Controller) Exec(ctx context.Context) (status int, err error) {
	type result struct {
		status int
		err    error
	}
	done := make(chan result, 1)
	go func() {
		status, err := c.Run(ctx)
		done <- result{status, err}
	}()

	select {
	case r := <-done:
		return r.status, r.err
	case <-ctx.Done():
		return 1, context.Cause(ctx)
	}
}

// stopped returns the cancellation cause once ctx is done.
func stopped(ctx context.Context) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

// prepare validates the options and decodes the arguments of each action.
func (c *Controller) prepare() (err error) {
	modes := 0
	for _, set := range []bool{c.ToNMEA, c.ToBinary, c.Reset} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return fmt.Errorf("%w: make up your mind, would you?", ErrConfig)
	}

	if c.Type != "" {
		if c.forced, err = c.Catalog.Match(c.Type); err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
		c.Log.Info("driver selected", zap.String("driver", c.forced.Name))
	}

	if c.Speed != "" {
		spec, err := ParseSpeed(c.Speed)
		if err != nil {
			return err
		}
		c.speed = &spec
	}

	if c.Rate != "" {
		if c.cycle, err = strconv.ParseFloat(c.Rate, 64); err != nil || c.cycle <= 0 {
			return fmt.Errorf("%w: invalid cycle %q", ErrConfig, c.Rate)
		}
	}

	if c.Control != "" {
		if c.control, err = DecodeEscapes(c.Control); err != nil {
			return err
		}
		// control strings only go out directly
		c.Direct = true
	}

	if c.Echo {
		c.Direct = true
	}

	// a daemon cannot safely reset a device it may be reading
	if c.Reset {
		c.Direct = true
	}
	return nil
}

// wantsAction reports whether anything beyond identification was asked for.
func (c *Controller) wantsAction() bool {
	return c.speed != nil || c.Rate != "" || c.ToNMEA || c.ToBinary || c.control != nil
}

// failed logs an action that could not be carried out.
func (c *Controller) failed(err error) {
	if errors.Is(err, ErrCapabilityAbsent) {
		c.Log.Warn(err.Error())
		return
	}
	c.Log.Error("action failed", zap.Error(err))
}

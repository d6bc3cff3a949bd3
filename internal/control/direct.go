// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"gitlab.com/postmarketOS/gnssctl/internal/gnss"
	"gitlab.com/postmarketOS/gnssctl/internal/hunt"
)

// ResetSpeeds are the line speeds a reset walks through, telling the
// receiver at each one to come back at 4800 8N1.
var ResetSpeeds = []int{2400, 4800, 9600, 19200, 38400, 57600, 115200}

// ResetStep is the minimum time spent at each reset speed.
var ResetStep = 100 * time.Millisecond

func (c *Controller) runDirect(ctx context.Context) (status int, err error) {
	if c.Echo {
		c.session.SetReadOnly(true)
	}

	d := gnss.NewDevice(c.Device, c.session, c.Catalog)
	d.Baud = c.Baud

	// a forced type that is only echoed needs no device at all
	if c.forced != nil && c.Echo {
		d.SwitchDriver(c.forced.Name)
	} else {
		if c.Device == "" {
			return 1, fmt.Errorf("control/Controller.runDirect: %w: device must be specified for low-level access", ErrConfig)
		}
		port, err := c.Open(c.Device, c.Baud)
		if err != nil {
			return 1, fmt.Errorf("control/Controller.runDirect: initial GPS device %s open failed: %w", c.Device, err)
		}
		defer port.Close()
		d.Attach(port)
		c.Log.Info("device activated", zap.String("device", c.Device))

		h := hunt.New(d, c.Timeout, c.Log)
		if err = h.Run(ctx, d.Input()); err != nil {
			return 1, fmt.Errorf("control/Controller.runDirect: %w", err)
		}
		c.Log.Info("hunt finished", zap.String("device", c.Device), zap.String("id", d.ID()), zap.Int("baud", d.Baud))

		if c.forced != nil && d.Driver != nil && d.Driver != gnss.GenericNMEA && d.Driver != c.forced {
			c.Log.Error("forced type doesn't match the non-generic type of the selected device",
				zap.String("forced", c.forced.Name), zap.String("detected", d.Driver.Name))
		}
	}

	fmt.Fprintf(c.Stdout, "%s identified as a %s at %d baud.\n", c.Device, d.ID(), d.Baud)

	if !c.wantsAction() {
		return 0, nil
	}

	if c.Echo {
		d.Echo(c.Stdout)
	}
	if c.forced != nil {
		d.SwitchDriver(c.forced.Name)
	}

	if err = stopped(ctx); err != nil {
		return 1, err
	}
	if c.ToNMEA || c.ToBinary {
		mode := gnss.ModeNMEA
		if c.ToBinary {
			mode = gnss.ModeBinary
		}
		c.Log.Warn("switching mode", zap.Stringer("mode", mode))
		if err = ApplyModeSwitch(d, mode); err != nil {
			c.failed(err)
			status = 1
		}
	}

	if err = stopped(ctx); err != nil {
		return 1, err
	}
	if c.speed != nil {
		spec := *c.speed
		if !spec.Framed && !c.Echo {
			spec.Parity, spec.StopBits = d.Parity, d.StopBits
		}
		if err = ApplySpeedSwitch(d, spec); err != nil {
			c.failed(err)
			status = 1
		} else {
			c.Log.Info("speed change succeeded", zap.String("device", d.Path), zap.Stringer("speed", spec))
		}
	}

	if err = stopped(ctx); err != nil {
		return 1, err
	}
	if c.Rate != "" {
		if err = ApplyRateSwitch(d, c.cycle); err != nil {
			c.failed(err)
			status = 1
		}
	}

	if err = stopped(ctx); err != nil {
		return 1, err
	}
	if c.control != nil {
		if err = ApplyControlSend(d, c.control); err != nil {
			c.failed(err)
			status = 1
		}
	}
	return status, nil
}

// runReset forces a receiver of the given type back to 4800 8N1 NMEA from
// whatever speed it is at.
func (c *Controller) runReset(ctx context.Context) (status int, err error) {
	if c.Device == "" || c.forced == nil {
		return 1, fmt.Errorf("control/Controller.runReset: %w: device and type must be specified for the reset operation", ErrConfig)
	}
	if c.forced.SpeedSwitcher == nil {
		c.failed(fmt.Errorf("%s devices have no speed switch: %w", c.forced.Name, ErrCapabilityAbsent))
		return 1, nil
	}

	port, err := c.Open(c.Device, c.Baud)
	if err != nil {
		return 1, fmt.Errorf("control/Controller.runReset: %s open failed: %w", c.Device, err)
	}
	defer port.Close()

	d := gnss.NewDevice(c.Device, c.session, c.Catalog)
	d.Attach(port)
	d.SwitchDriver(c.forced.Name)
	drv := d.Driver

	limiter := ratelimit.New(1, ratelimit.Per(ResetStep))
	err = c.session.Writable(func() error {
		c.resetStep(d, drv)
		for _, baud := range ResetSpeeds {
			limiter.Take()
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			if err := d.SetSpeed(baud, 'N', 1); err != nil {
				c.Log.Warn("reset speed", zap.Int("baud", baud), zap.Error(err))
				continue
			}
			c.resetStep(d, drv)
		}

		if err := d.SetSpeed(4800, 'N', 1); err != nil {
			return err
		}
		for i := 0; i < 3; i++ {
			if drv.ModeSwitcher == nil {
				break
			}
			if err := drv.ModeSwitcher(d, gnss.ModeNMEA); err != nil {
				c.Log.Warn("reset mode switch", zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return 1, fmt.Errorf("control/Controller.runReset: %w", err)
	}
	return 0, nil
}

// resetStep tells the receiver to go to 4800 8N1. Failures are expected at
// every speed but the right one.
func (c *Controller) resetStep(d *gnss.Device, drv *gnss.Driver) {
	if err := drv.SpeedSwitcher(d, 4800, 'N', 1); err != nil {
		c.Log.Debug("reset speed switch", zap.Int("baud", d.Baud), zap.Error(err))
	}
	_ = d.Drain()
}

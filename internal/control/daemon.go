// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/postmarketOS/gnssctl/internal/gpsd"
)

var errNeverIdentified = errors.New("device did not identify in time")

// findDevice returns the index of path in devices.
func findDevice(devices []gpsd.DeviceConfig, path string) (int, bool) {
	for i, dev := range devices {
		if dev.Path == path {
			return i, true
		}
	}
	return 0, false
}

// fatal reports whether err from a query leaves the connection unusable or
// the run cancelled, as opposed to a failed action.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, gpsd.ErrFatal) || ctx.Err() != nil
}

func (c *Controller) runDaemon(ctx context.Context, conn *gpsd.Conn) (status int, err error) {
	if err = conn.Query(ctx, gpsd.DeviceListSet, c.Timeout, "?DEVICES;"); err != nil {
		return 1, fmt.Errorf("control/Controller.runDaemon: no DEVICES response received: %w", err)
	}

	devices := conn.Data.Devices
	switch {
	case len(devices) == 0:
		return 1, fmt.Errorf("control/Controller.runDaemon: no devices connected")
	case len(devices) > 1 && c.Device == "":
		return 1, fmt.Errorf("control/Controller.runDaemon: multiple devices and no device specified")
	}
	c.Log.Info("devices found", zap.Int("count", len(devices)))

	path := c.Device
	if path == "" {
		path = devices[0].Path
	}
	i, ok := findDevice(devices, path)
	if !ok {
		return 1, fmt.Errorf("control/Controller.runDaemon: specified device %s not found in device list", path)
	}
	dev := devices[i]

	if dev.Driver == "" {
		if dev, err = c.awaitIdentity(ctx, conn, path, len(devices)); err != nil {
			return 1, fmt.Errorf("control/Controller.runDaemon: %w", err)
		}
	}
	if dev.Driver == "" {
		c.Log.Warn("device can't be identified", zap.String("device", dev.Path))
		return 0, nil
	}

	if !c.wantsAction() {
		fmt.Fprintf(c.Stdout, "%s identified as %s at %d\n", dev.Path, dev.Driver, dev.BPS)
		return 0, nil
	}

	if err = stopped(ctx); err != nil {
		return 1, err
	}
	if c.ToNMEA || c.ToBinary {
		// a DEVICE response still carries the old mode, so any non-error
		// answer has to do
		native, name := 0, "NMEA"
		if c.ToBinary {
			native, name = 1, "native"
		}
		cmd := gpsd.DeviceCommand{Path: path, Native: &native}
		if err = conn.Query(ctx, gpsd.NonError, c.Timeout, "%s", cmd); err != nil {
			if fatal(ctx, err) {
				return 1, fmt.Errorf("control/Controller.runDaemon: %w", err)
			}
			c.failed(fmt.Errorf("%s mode change to %s failed: %w", path, name, err))
			status = 1
		} else {
			c.Log.Info("mode change succeeded", zap.String("device", path))
		}
	}

	if err = stopped(ctx); err != nil {
		return 1, err
	}
	if c.speed != nil {
		cmd := gpsd.DeviceCommand{Path: path, BPS: c.speed.Baud}
		if c.speed.Framed {
			cmd.Parity = string(c.speed.Parity)
			cmd.StopBits = c.speed.StopBits
		}
		if err = conn.Query(ctx, gpsd.DeviceSet, c.Timeout, "%s", cmd); err != nil && fatal(ctx, err) {
			return 1, fmt.Errorf("control/Controller.runDaemon: %w", err)
		}
		if conn.Data.Dev.BPS != c.speed.Baud {
			c.failed(fmt.Errorf("%s driver won't support %s: %w", path, c.speed, ErrDriverFailed))
			status = 1
		} else {
			c.Log.Info("speed change succeeded", zap.String("device", path), zap.Stringer("speed", c.speed))
		}
	}

	if err = stopped(ctx); err != nil {
		return 1, err
	}
	if c.Rate != "" {
		cmd := gpsd.DeviceCommand{Path: path, Cycle: c.cycle}
		if err = conn.Query(ctx, gpsd.DeviceSet, c.Timeout, "%s", cmd); err != nil {
			if fatal(ctx, err) {
				return 1, fmt.Errorf("control/Controller.runDaemon: %w", err)
			}
			c.failed(fmt.Errorf("%s cycle change failed: %w", path, err))
			status = 1
		} else {
			c.Log.Info("cycle change succeeded", zap.String("device", path), zap.Float64("cycle", conn.Data.Dev.Cycle))
		}
	}
	return status, nil
}

// awaitIdentity watches device reports until path reports its driver, or
// every device has reported once.
func (c *Controller) awaitIdentity(ctx context.Context, conn *gpsd.Conn, path string, devcount int) (dev gpsd.DeviceConfig, err error) {
	if err = conn.Watch(); err != nil {
		err = fmt.Errorf("stream set failed: %w", err)
		return
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.Timeout, errNeverIdentified)
		defer cancel()
	}

	for devcount > 0 {
		if err = conn.Read(ctx); err != nil {
			err = fmt.Errorf("data read failed: %w", err)
			return
		}
		if conn.Data.Set&gpsd.DeviceSet == 0 {
			continue
		}
		devcount--
		if conn.Data.Dev.Path == path {
			return conn.Data.Dev, nil
		}
	}
	err = fmt.Errorf("data read failed: %s never reported", path)
	return
}

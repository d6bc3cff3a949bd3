// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"errors"
	"fmt"

	"gitlab.com/postmarketOS/gnssctl/internal/gnss"
)

var (
	// ErrCapabilityAbsent means the resolved driver cannot do what was
	// asked. Nothing was sent to the device.
	ErrCapabilityAbsent = errors.New("no such capability")
	// ErrDriverFailed means the driver tried and declined or failed.
	ErrDriverFailed = errors.New("driver failed")
)

func absent(d *gnss.Device, capability string) error {
	name := "unidentified"
	if d.Driver != nil {
		name = d.Driver.Name
	}
	return fmt.Errorf("%s devices have no %s: %w", name, capability, ErrCapabilityAbsent)
}

// writable runs a state-changing capability with the read-only restriction
// lifted and settles the device when it succeeds.
func writable(d *gnss.Device, f func() error) (err error) {
	if err = d.Session.Writable(f); err != nil {
		return fmt.Errorf("%w: %v", ErrDriverFailed, err)
	}
	Settle(d)
	return
}

func ApplyModeSwitch(d *gnss.Device, mode gnss.Mode) (err error) {
	if d.Driver == nil || d.Driver.ModeSwitcher == nil {
		return absent(d, "mode switch")
	}
	switcher := d.Driver.ModeSwitcher
	if err = writable(d, func() error { return switcher(d, mode) }); err != nil {
		return fmt.Errorf("control.ApplyModeSwitch: mode change to %s: %w", mode, err)
	}
	return
}

// ApplySpeedSwitch asks the device to change its line settings and then
// follows it, so that anything sent afterwards goes out at the new speed.
func ApplySpeedSwitch(d *gnss.Device, spec SpeedSpec) (err error) {
	if d.Driver == nil || d.Driver.SpeedSwitcher == nil {
		return absent(d, "speed switch")
	}
	switcher := d.Driver.SpeedSwitcher
	err = writable(d, func() error {
		return switcher(d, spec.Baud, spec.Parity, spec.StopBits)
	})
	if err != nil {
		return fmt.Errorf("control.ApplySpeedSwitch: %s driver won't support %s: %w", d.Path, spec, err)
	}
	if err = d.SetSpeed(spec.Baud, spec.Parity, spec.StopBits); err != nil {
		return fmt.Errorf("control.ApplySpeedSwitch: %w", err)
	}
	return
}

func ApplyRateSwitch(d *gnss.Device, cycle float64) (err error) {
	if d.Driver == nil || d.Driver.RateSwitcher == nil {
		return absent(d, "rate switcher")
	}
	switcher := d.Driver.RateSwitcher
	if err = writable(d, func() error { return switcher(d, cycle) }); err != nil {
		return fmt.Errorf("control.ApplyRateSwitch: rate switch failed: %w", err)
	}
	return
}

func ApplyControlSend(d *gnss.Device, msg []byte) (err error) {
	if d.Driver == nil || d.Driver.ControlSend == nil {
		return absent(d, "control sender")
	}
	send := d.Driver.ControlSend
	if err = writable(d, func() error { return send(d, msg) }); err != nil {
		return fmt.Errorf("control.ApplyControlSend: control transmission failed: %w", err)
	}
	return
}

// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/postmarketOS/gnssctl/internal/gnss"
	"gitlab.com/postmarketOS/gnssctl/internal/packet"
)

func newDispatchDevice(t *testing.T, drv *gnss.Driver) (*gnss.Device, *fakePort) {
	s := gnss.NewSession(zap.NewNop(), time.Second)
	d := gnss.NewDevice("/dev/ttyTEST", s, gnss.Default)
	p := newFakePort(t, 4800)
	d.Attach(p)
	d.Driver = drv
	return d, p
}

func TestDispatchCapabilityAbsent(t *testing.T) {
	bare := &gnss.Driver{Name: "Bare"}
	// each capability is checked on its own
	onlyRate := &gnss.Driver{
		Name:         "Rate only",
		RateSwitcher: func(d *gnss.Device, cycle float64) error { return nil },
	}

	tables := []struct {
		name string
		drv  *gnss.Driver
		call func(d *gnss.Device) error
	}{
		{"mode", bare, func(d *gnss.Device) error { return ApplyModeSwitch(d, gnss.ModeBinary) }},
		{"speed", onlyRate, func(d *gnss.Device) error { return ApplySpeedSwitch(d, SpeedSpec{Baud: 9600, Parity: 'N', StopBits: 1}) }},
		{"rate", bare, func(d *gnss.Device) error { return ApplyRateSwitch(d, 1) }},
		{"control", onlyRate, func(d *gnss.Device) error { return ApplyControlSend(d, []byte("x")) }},
		{"unidentified", nil, func(d *gnss.Device) error { return ApplyControlSend(d, []byte("x")) }},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			d, p := newDispatchDevice(t, table.drv)
			err := table.call(d)
			assert.ErrorIs(t, err, ErrCapabilityAbsent)
			assert.Empty(t, p.Written())
			assert.Zero(t, p.Drains())
			assert.Equal(t, 4800, d.Baud)
		})
	}
}

func TestDispatchDriverFailed(t *testing.T) {
	drv := &gnss.Driver{
		Name: "Failing",
		SpeedSwitcher: func(d *gnss.Device, baud int, parity byte, stopBits int) error {
			return errors.New("unsupported")
		},
	}
	d, p := newDispatchDevice(t, drv)

	err := ApplySpeedSwitch(d, SpeedSpec{Baud: 9600, Parity: 'N', StopBits: 1})
	assert.ErrorIs(t, err, ErrDriverFailed)
	assert.NotErrorIs(t, err, ErrCapabilityAbsent)
	// no settle, and the line stays where it was
	assert.Zero(t, p.Drains())
	assert.Equal(t, 4800, d.Baud)
	assert.Empty(t, p.Speeds())
}

func TestDispatchSpeedSettlesAndFollows(t *testing.T) {
	d, p := newDispatchDevice(t, gnss.UBlox)

	require.NoError(t, ApplySpeedSwitch(d, SpeedSpec{Baud: 9600, Parity: 'E', StopBits: 1}))
	assert.Equal(t, 2, p.Drains())
	assert.Equal(t, []int{9600}, p.Speeds())
	assert.Equal(t, 9600, d.Baud)
	assert.Equal(t, byte('E'), d.Parity)

	// the frame went out before the line changed
	pkts := new(packet.Lexer).Feed(p.Written())
	require.Len(t, pkts, 1)
	class, id := pkts[0].UBXID()
	assert.Equal(t, [2]byte{0x06, 0x00}, [2]byte{class, id})
}

func TestDispatchLiftsReadOnly(t *testing.T) {
	var during bool
	drv := &gnss.Driver{
		Name: "Watcher",
		ControlSend: func(d *gnss.Device, msg []byte) error {
			during = d.Session.ReadOnly()
			_, err := d.Write(msg)
			return err
		},
	}
	d, p := newDispatchDevice(t, drv)
	d.Session.SetReadOnly(true)

	require.NoError(t, ApplyControlSend(d, []byte("hello")))
	assert.False(t, during)
	assert.True(t, d.Session.ReadOnly())
	assert.Equal(t, []byte("hello"), p.Written())
}

func TestSettle(t *testing.T) {
	p := newFakePort(t, 4800)
	start := time.Now()
	Settle(p)
	assert.Equal(t, 2, p.Drains())
	assert.GreaterOrEqual(t, time.Since(start), SettleDelay)
}

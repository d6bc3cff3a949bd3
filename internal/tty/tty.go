// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

// Package tty is the serial transport used for direct device access.
package tty

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is an open, raw-mode serial device.
type Port interface {
	io.ReadWriteCloser
	SetSpeed(baud int, parity byte, stopBits int) error
	Speed() (baud int, parity byte, stopBits int)
	// Drain blocks until all queued output has been transmitted.
	Drain() error
}

// HuntSpeeds is the sequence of speeds tried while looking for a receiver
// that is not talking at the expected rate.
var HuntSpeeds = []int{4800, 9600, 19200, 38400, 57600, 115200, 230400}

// readTimeout bounds a single Read so that readers can notice cancellation.
const readTimeout = 250 * time.Millisecond

// Serial is a Port backed by a tty device.
type Serial struct {
	path string
	port serial.Port
	mode serial.Mode
	// parity and stop bits as the caller expressed them
	parity   byte
	stopBits int
}

// Open opens path in raw 8-bit mode at the given speed, no parity, one stop
// bit. Nothing is written to the device.
func Open(path string, baud int) (s *Serial, err error) {
	s = &Serial{
		path: path,
		mode: serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		parity:   'N',
		stopBits: 1,
	}

	s.port, err = serial.Open(path, &s.mode)
	if err != nil {
		err = fmt.Errorf("tty.Open: %w", err)
		return nil, err
	}
	if err = s.port.SetReadTimeout(readTimeout); err != nil {
		s.port.Close()
		err = fmt.Errorf("tty.Open: %w", err)
		return nil, err
	}
	return
}

func (s *Serial) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *Serial) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *Serial) Close() (err error) {
	if s.port == nil {
		return
	}
	if err = s.port.Close(); err != nil {
		err = fmt.Errorf("tty/Serial.Close: %w", err)
	}
	return
}

func (s *Serial) Drain() (err error) {
	if err = s.port.Drain(); err != nil {
		err = fmt.Errorf("tty/Serial.Drain: %w", err)
	}
	return
}

func (s *Serial) Speed() (int, byte, int) {
	return s.mode.BaudRate, s.parity, s.stopBits
}

// SetSpeed reprograms the line. parity is one of 'N', 'O', 'E' and stopBits
// is 1 or 2.
func (s *Serial) SetSpeed(baud int, parity byte, stopBits int) (err error) {
	mode := s.mode
	mode.BaudRate = baud
	if mode.Parity, err = Parity(parity); err != nil {
		return fmt.Errorf("tty/Serial.SetSpeed: %w", err)
	}
	switch stopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return fmt.Errorf("tty/Serial.SetSpeed: invalid stop bits %d", stopBits)
	}

	if err = s.port.SetMode(&mode); err != nil {
		return fmt.Errorf("tty/Serial.SetSpeed: %w", err)
	}
	s.mode = mode
	s.parity = parity
	s.stopBits = stopBits
	return
}

// NextHuntSetting moves the line to the speed after the current one in
// HuntSpeeds, 8N1, and returns it.
func (s *Serial) NextHuntSetting() (baud int, err error) {
	baud = NextSpeed(s.mode.BaudRate)
	if err = s.SetSpeed(baud, 'N', 1); err != nil {
		return 0, err
	}
	return
}

// NextSpeed returns the hunt speed following current, wrapping around. An
// unknown speed restarts the sequence.
func NextSpeed(current int) int {
	for i, b := range HuntSpeeds {
		if b == current {
			return HuntSpeeds[(i+1)%len(HuntSpeeds)]
		}
	}
	return HuntSpeeds[0]
}

// Parity maps a parity character onto the serial library's setting.
func Parity(c byte) (serial.Parity, error) {
	switch c {
	case 'N':
		return serial.NoParity, nil
	case 'O':
		return serial.OddParity, nil
	case 'E':
		return serial.EvenParity, nil
	}
	return serial.NoParity, fmt.Errorf("invalid parity %q", c)
}

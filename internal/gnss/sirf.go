// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package gnss

import (
	"encoding/binary"
	"fmt"
	"strings"

	"gitlab.com/postmarketOS/gnssctl/internal/nmea"
	"gitlab.com/postmarketOS/gnssctl/internal/packet"
)

var SiRFBinary = &Driver{
	Name:          "SiRF binary",
	Native:        packet.SiRF,
	Trigger:       "$PSRF",
	ModeSwitcher:  sirfModeSwitch,
	SpeedSwitcher: sirfSpeedSwitch,
	ControlSend:   sirfControlSend,
	Identify:      sirfIdentify,
}

func sirfParityCode(parity byte) (int, error) {
	switch parity {
	case 'N':
		return 0, nil
	case 'O':
		return 1, nil
	case 'E':
		return 2, nil
	}
	return 0, fmt.Errorf("invalid parity %q", parity)
}

func sirfModeSwitch(d *Device, mode Mode) (err error) {
	var out []byte
	if mode == ModeBinary {
		out = nmea.Sentence{
			Type: "PSRF100",
			Data: []string{"0", fmt.Sprint(d.Baud), "8", "1", "0"},
		}.Bytes()
	} else {
		// message 0x81, switch to NMEA: mode, then rate and checksum
		// flag for GGA GLL GSA GSV RMC VTG MSS EPE ZDA, a spare pair and
		// the baud rate
		payload := []byte{
			0x81, 0x02,
			0x01, 0x01,
			0x00, 0x01,
			0x01, 0x01,
			0x05, 0x01,
			0x01, 0x01,
			0x00, 0x01,
			0x00, 0x01,
			0x00, 0x01,
			0x00, 0x01,
			0x00, 0x00,
		}
		payload = binary.BigEndian.AppendUint16(payload, uint16(d.Baud))
		if out, err = packet.SiRFFrame(payload); err != nil {
			return fmt.Errorf("gnss.sirfModeSwitch: %w", err)
		}
	}
	if _, err = d.Write(out); err != nil {
		return fmt.Errorf("gnss.sirfModeSwitch: %w", err)
	}
	d.Mode = mode
	return
}

func sirfSpeedSwitch(d *Device, baud int, parity byte, stopBits int) (err error) {
	code, err := sirfParityCode(parity)
	if err != nil {
		return fmt.Errorf("gnss.sirfSpeedSwitch: %w", err)
	}

	var out []byte
	if d.Mode == ModeBinary {
		// message 0x86, set binary serial port
		payload := []byte{0x86}
		payload = binary.BigEndian.AppendUint32(payload, uint32(baud))
		payload = append(payload, 8, byte(stopBits), byte(code), 0)
		if out, err = packet.SiRFFrame(payload); err != nil {
			return fmt.Errorf("gnss.sirfSpeedSwitch: %w", err)
		}
	} else {
		out = nmea.Sentence{
			Type: "PSRF100",
			Data: []string{"1", fmt.Sprint(baud), "8", fmt.Sprint(stopBits), fmt.Sprint(code)},
		}.Bytes()
	}
	if _, err = d.Write(out); err != nil {
		return fmt.Errorf("gnss.sirfSpeedSwitch: %w", err)
	}
	return
}

// sirfControlSend frames msg, message id first, as a SiRF binary packet.
func sirfControlSend(d *Device, msg []byte) error {
	out, err := packet.SiRFFrame(msg)
	if err != nil {
		return fmt.Errorf("gnss.sirfControlSend: %w", err)
	}
	if _, err = d.Write(out); err != nil {
		return fmt.Errorf("gnss.sirfControlSend: %w", err)
	}
	return nil
}

func sirfIdentify(d *Device, p packet.Packet) {
	// message 6 carries the software version string
	if p.Family != packet.SiRF || p.SiRFID() != 0x06 {
		return
	}
	payload := p.Raw[5 : len(p.Raw)-4]
	d.Subtype = strings.TrimRight(string(payload), "\x00 ")
}

// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package gnss

import (
	"encoding/binary"
	"fmt"
	"strings"

	"gitlab.com/postmarketOS/gnssctl/internal/packet"
)

var UBlox = &Driver{
	Name:          "u-blox",
	Native:        packet.UBX,
	Trigger:       "$PUBX",
	Banner:        "u-blox",
	ModeSwitcher:  ubxModeSwitch,
	SpeedSwitcher: ubxSpeedSwitch,
	RateSwitcher:  ubxRateSwitch,
	ControlSend:   ubxControlSend,
	Identify:      ubxIdentify,
}

const (
	ubxProtoUBX  = 0x0001
	ubxProtoNMEA = 0x0002
)

// ubxPortConfig builds a UBX-CFG-PRT payload for UART1.
func ubxPortConfig(baud int, parity byte, stopBits int, outProto uint16) ([]byte, error) {
	// 8 data bits
	mode := uint32(0xC0)
	switch parity {
	case 'N':
		mode |= 0x4 << 9
	case 'O':
		mode |= 0x1 << 9
	case 'E':
	default:
		return nil, fmt.Errorf("invalid parity %q", parity)
	}
	switch stopBits {
	case 1:
	case 2:
		mode |= 0x2 << 12
	default:
		return nil, fmt.Errorf("invalid stop bits %d", stopBits)
	}

	cfg := make([]byte, 20)
	cfg[0] = 0x01 // portID
	binary.LittleEndian.PutUint32(cfg[4:8], mode)
	binary.LittleEndian.PutUint32(cfg[8:12], uint32(baud))
	binary.LittleEndian.PutUint16(cfg[12:14], ubxProtoUBX|ubxProtoNMEA)
	binary.LittleEndian.PutUint16(cfg[14:16], outProto)
	return cfg, nil
}

func ubxOutProto(mode Mode) uint16 {
	if mode == ModeBinary {
		return ubxProtoUBX
	}
	return ubxProtoNMEA
}

func ubxModeSwitch(d *Device, mode Mode) error {
	cfg, err := ubxPortConfig(d.Baud, d.Parity, d.StopBits, ubxOutProto(mode))
	if err != nil {
		return fmt.Errorf("gnss.ubxModeSwitch: %w", err)
	}
	if _, err = d.Write(packet.UBXFrame(0x06, 0x00, cfg)); err != nil {
		return fmt.Errorf("gnss.ubxModeSwitch: %w", err)
	}
	d.Mode = mode
	return nil
}

func ubxSpeedSwitch(d *Device, baud int, parity byte, stopBits int) error {
	cfg, err := ubxPortConfig(baud, parity, stopBits, ubxOutProto(d.Mode))
	if err != nil {
		return fmt.Errorf("gnss.ubxSpeedSwitch: %w", err)
	}
	if _, err = d.Write(packet.UBXFrame(0x06, 0x00, cfg)); err != nil {
		return fmt.Errorf("gnss.ubxSpeedSwitch: %w", err)
	}
	return nil
}

// ubxRateSwitch sets the measurement period to cycle seconds through
// UBX-CFG-RATE, one navigation solution per measurement, aligned to GPS
// time.
func ubxRateSwitch(d *Device, cycle float64) error {
	ms := cycle * 1000
	if ms < 25 || ms > 65535 {
		return fmt.Errorf("gnss.ubxRateSwitch: cycle %gs out of range", cycle)
	}
	payload := make([]byte, 6)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(ms))
	binary.LittleEndian.PutUint16(payload[2:4], 1)
	binary.LittleEndian.PutUint16(payload[4:6], 1)
	if _, err := d.Write(packet.UBXFrame(0x06, 0x08, payload)); err != nil {
		return fmt.Errorf("gnss.ubxRateSwitch: %w", err)
	}
	return nil
}

// ubxControlSend treats the first two bytes of msg as class and id and
// frames the rest as payload.
func ubxControlSend(d *Device, msg []byte) error {
	if len(msg) < 2 {
		return fmt.Errorf("gnss.ubxControlSend: message needs class and id, got %d bytes", len(msg))
	}
	if _, err := d.Write(packet.UBXFrame(msg[0], msg[1], msg[2:])); err != nil {
		return fmt.Errorf("gnss.ubxControlSend: %w", err)
	}
	return nil
}

func ubxIdentify(d *Device, p packet.Packet) {
	// UBX-MON-VER: 30 bytes of software version, then 10 of hardware
	if class, id := p.UBXID(); class != 0x0A || id != 0x04 {
		return
	}
	payload := p.Raw[6 : len(p.Raw)-2]
	if len(payload) < 30 {
		return
	}
	d.Subtype = strings.TrimRight(string(payload[:30]), "\x00 ")
}

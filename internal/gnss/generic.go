// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package gnss

import (
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/postmarketOS/gnssctl/internal/nmea"
	"gitlab.com/postmarketOS/gnssctl/internal/packet"
)

// MaxProbes is the number of subtype probes the generic driver sends.
const MaxProbes = 3

var GenericNMEA = &Driver{
	Name:        "Generic NMEA",
	Native:      packet.NMEA,
	ControlSend: nmeaControlSend,
	Probe:       probeSubtype,
}

// nmeaControlSend frames text that starts with '$' as a sentence and sends
// anything else untouched.
func nmeaControlSend(d *Device, msg []byte) error {
	out := msg
	if len(msg) > 0 && msg[0] == '$' {
		out = nmea.Wrap(string(msg))
	}
	if _, err := d.Write(out); err != nil {
		return fmt.Errorf("gnss.nmeaControlSend: %w", err)
	}
	return nil
}

// probeSubtype asks, one query per text packet, for the version banner of
// each receiver family that also speaks NMEA. Whichever answers gets
// picked up by the trigger or native packet checks.
func probeSubtype(d *Device, seq int) {
	var query []byte
	switch seq {
	case 0:
		query = nmea.Sentence{Type: "PSTMGETSWVER"}.Bytes()
	case 1:
		// UBX-MON-VER poll
		query = packet.UBXFrame(0x0A, 0x04, nil)
	case 2:
		query = nmea.Sentence{Type: "PSRF125"}.Bytes()
	default:
		return
	}
	if _, err := d.Write(query); err != nil {
		d.Session.Log.Debug("subtype probe failed", zap.String("device", d.Path), zap.Int("probe", seq), zap.Error(err))
	}
}

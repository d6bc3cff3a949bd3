// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package gnss

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/postmarketOS/gnssctl/internal/nmea"
	"gitlab.com/postmarketOS/gnssctl/internal/packet"
)

// Teseo is an STMicro Teseo module. It only ever talks NMEA; configuration
// goes through the PSTMSETPAR configuration data blocks (CDB), see the
// Teseo Liv3f gps software manual.
var Teseo = &Driver{
	Name:          "STMicro Teseo",
	Native:        packet.NMEA,
	Trigger:       "$PSTM",
	Banner:        "DEFAULT LIV CONFIGURATION",
	SpeedSwitcher: stmSpeedSwitch,
	RateSwitcher:  stmRateSwitch,
	ControlSend:   nmeaControlSend,
	Identify:      stmIdentify,
}

const (
	stmCdbBaudRate = 102
	stmCdbFixRate  = 303
)

// values accepted by the NMEA port baud rate CDB
var stmBaudCodes = map[int]uint64{
	4800:   0x4,
	9600:   0x5,
	14400:  0x6,
	19200:  0x7,
	38400:  0x8,
	57600:  0x9,
	115200: 0xA,
	230400: 0xB,
	460800: 0xC,
	921600: 0xD,
}

func stmSpeedSwitch(d *Device, baud int, parity byte, stopBits int) error {
	if parity != 'N' || stopBits != 1 {
		return fmt.Errorf("gnss.stmSpeedSwitch: only 8N1 framing is supported, got %c%d", parity, stopBits)
	}
	code, ok := stmBaudCodes[baud]
	if !ok {
		return fmt.Errorf("gnss.stmSpeedSwitch: unsupported baud rate %d", baud)
	}
	if err := stmSetParam(d, stmCdbBaudRate, fmt.Sprintf("0x%08x", code)); err != nil {
		return fmt.Errorf("gnss.stmSpeedSwitch: %w", err)
	}
	return nil
}

func stmRateSwitch(d *Device, cycle float64) error {
	if cycle <= 0 {
		return fmt.Errorf("gnss.stmRateSwitch: invalid cycle %g", cycle)
	}
	// the CDB holds a rate in Hz
	rate := strconv.FormatFloat(1/cycle, 'f', -1, 64)
	if err := stmSetParam(d, stmCdbFixRate, rate); err != nil {
		return fmt.Errorf("gnss.stmRateSwitch: %w", err)
	}
	return nil
}

// stmSetParam writes value into the current configuration block, saves it
// and resets the module so that the new setting takes effect.
func stmSetParam(d *Device, cdbID int, value string) (err error) {
	if _, err = stmSendCmd(d, nmea.Sentence{Type: "PSTMGPSSUSPEND"}, true); err != nil {
		return fmt.Errorf("gnss.stmSetParam: %w", err)
	}
	// resume only on error, since the module is reset on success

	setPar := nmea.Sentence{
		Type: "PSTMSETPAR",
		Data: []string{
			fmt.Sprintf("%d%d", 3, cdbID),
			value,
			// TODO: exposing the OR and AND functionality in the 4th
			// optional parameter to PSTMSETPAR would be nice
			fmt.Sprintf("%d", 0),
		},
	}
	out, err := stmSendCmd(d, setPar, true)
	if err != nil {
		stmResume(d)
		return fmt.Errorf("gnss.stmSetParam: %w", err)
	}
	for _, o := range out {
		if strings.Contains(o, "PSTMSETPARERROR") {
			stmResume(d)
			return fmt.Errorf("gnss.stmSetParam: module refused %s for conf block %d", value, cdbID)
		}
	}

	if _, err = stmSendCmd(d, nmea.Sentence{Type: "PSTMSAVEPAR"}, true); err != nil {
		stmResume(d)
		return fmt.Errorf("gnss.stmSetParam: %w", err)
	}
	if _, err = stmSendCmd(d, nmea.Sentence{Type: "PSTMSRR"}, false); err != nil {
		return fmt.Errorf("gnss.stmSetParam: %w", err)
	}
	return
}

func stmResume(d *Device) {
	if _, err := stmSendCmd(d, nmea.Sentence{Type: "PSTMGPSRESTART"}, false); err != nil {
		d.Session.Log.Warn("resume failed", zap.String("device", d.Path), zap.Error(err))
	}
}

// stmSendCmd writes a command. An acked command is complete when the module
// echoes it back; everything read before the echo is returned. The wait is
// bounded by the session timeout, and skipped when nothing can be read back.
func stmSendCmd(d *Device, cmd nmea.Sentence, acked bool) (out []string, err error) {
	if _, err = d.Write(cmd.Bytes()); err != nil {
		err = fmt.Errorf("gnss.stmSendCmd: %w", err)
		return
	}
	if !acked || !d.listening() {
		return
	}

	echo := cmd.String()
	var deadline time.Time
	if d.Session.Timeout > 0 {
		deadline = time.Now().Add(d.Session.Timeout)
	}
	var lexer packet.Lexer
	buf := make([]byte, 1024)
	for {
		n, rerr := d.Port.Read(buf)
		for _, p := range lexer.Feed(buf[:n]) {
			if p.Family != packet.NMEA {
				continue
			}
			line := p.Sentence()
			d.Session.Log.Debug("read", zap.String("device", d.Path), zap.String("line", line))
			if line == echo {
				return
			}
			out = append(out, line)
		}
		if rerr != nil {
			err = fmt.Errorf("gnss.stmSendCmd: %w", rerr)
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			err = fmt.Errorf("gnss.stmSendCmd: %s not acknowledged within %s", cmd.Type, d.Session.Timeout)
			return
		}
	}
}

func stmIdentify(d *Device, p packet.Packet) {
	if p.Family != packet.NMEA {
		return
	}
	body, err := nmea.Verify(p.Sentence())
	if err != nil || !strings.HasPrefix(body, "PSTMVER,") {
		return
	}
	d.Subtype = strings.TrimPrefix(body, "PSTMVER,")
}

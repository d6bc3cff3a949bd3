// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"fmt"
	"strconv"
	"strings"
)

// SpeedSpec is a parsed -s argument, rate[:WPS] where W is the word length,
// P the parity and S the number of stop bits.
type SpeedSpec struct {
	Baud     int
	DataBits int
	Parity   byte
	StopBits int
	// Framed is set when the framing suffix was given.
	Framed bool
}

// ParseSpeed parses a speed specifier. Without a suffix the result is 8N1
// with Framed unset.
func ParseSpeed(s string) (spec SpeedSpec, err error) {
	spec = SpeedSpec{DataBits: 8, Parity: 'N', StopBits: 1}

	rate, mode, framed := strings.Cut(s, ":")
	if spec.Baud, err = strconv.Atoi(rate); err != nil || spec.Baud <= 0 {
		return spec, fmt.Errorf("%w: invalid speed %q", ErrConfig, rate)
	}
	if !framed {
		return spec, nil
	}

	spec.Framed = true
	if len(mode) != 3 {
		return spec, fmt.Errorf("%w: framing must look like 8N1, got %q", ErrConfig, mode)
	}
	switch mode[0] {
	case '7', '8':
		spec.DataBits = int(mode[0] - '0')
	default:
		return spec, fmt.Errorf("%w: no support for word length %c", ErrConfig, mode[0])
	}
	if !strings.ContainsRune("NOE", rune(mode[1])) {
		return spec, fmt.Errorf("%w: what parity is %q?", ErrConfig, mode[1])
	}
	spec.Parity = mode[1]
	switch mode[2] {
	case '1', '2':
		spec.StopBits = int(mode[2] - '0')
	default:
		return spec, fmt.Errorf("%w: stop bits must be 1 or 2", ErrConfig)
	}
	return spec, nil
}

func (s SpeedSpec) String() string {
	return fmt.Sprintf("%d%c%d", s.Baud, s.Parity, s.StopBits)
}

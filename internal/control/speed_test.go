// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"errors"
	"testing"
)

func TestParseSpeed(t *testing.T) {
	tables := []struct {
		in       string
		expected SpeedSpec
		valid    bool
	}{
		{"4800", SpeedSpec{Baud: 4800, DataBits: 8, Parity: 'N', StopBits: 1}, true},
		{"4800:8N1", SpeedSpec{Baud: 4800, DataBits: 8, Parity: 'N', StopBits: 1, Framed: true}, true},
		{"9600:7E2", SpeedSpec{Baud: 9600, DataBits: 7, Parity: 'E', StopBits: 2, Framed: true}, true},
		{"115200:8O1", SpeedSpec{Baud: 115200, DataBits: 8, Parity: 'O', StopBits: 1, Framed: true}, true},
		{"4800:9N1", SpeedSpec{}, false},
		{"4800:8X1", SpeedSpec{}, false},
		{"4800:8N3", SpeedSpec{}, false},
		{"4800:8N", SpeedSpec{}, false},
		{"4800:", SpeedSpec{}, false},
		{"fast", SpeedSpec{}, false},
		{"-4800", SpeedSpec{}, false},
	}

	for _, table := range tables {
		out, err := ParseSpeed(table.in)
		if !table.valid {
			if !errors.Is(err, ErrConfig) {
				t.Errorf("%q expected a configuration error, got: %v", table.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q unexpected error: %v", table.in, err)
			continue
		}
		if out != table.expected {
			t.Errorf("%q expected: %+v, got: %+v", table.in, table.expected, out)
		}
	}
}

func TestSpeedSpecString(t *testing.T) {
	if s := (SpeedSpec{Baud: 9600, Parity: 'E', StopBits: 2}).String(); s != "9600E2" {
		t.Errorf("expected: 9600E2, got: %s", s)
	}
}

// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package gnss

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"gitlab.com/postmarketOS/gnssctl/internal/nmea"
)

func TestCatalogMatch(t *testing.T) {
	tables := []struct {
		pattern  string
		expected *Driver
		count    int
	}{
		{"u-blox", UBlox, 0},
		{"SiRF", SiRFBinary, 0},
		{"Teseo", Teseo, 0},
		{"Generic", GenericNMEA, 0},
		{"garmin", nil, 0},
		{"o", nil, 2},
	}

	for _, table := range tables {
		drv, err := Default.Match(table.pattern)
		var ambiguous *AmbiguousError
		switch {
		case table.expected != nil:
			if err != nil || drv != table.expected {
				t.Errorf("%q expected: %s, got: %v (%v)", table.pattern, table.expected.Name, drv, err)
			}
		case table.count > 0:
			if !errors.As(err, &ambiguous) || ambiguous.Count != table.count {
				t.Errorf("%q expected %d matches, got: %v", table.pattern, table.count, err)
			}
		default:
			if !errors.Is(err, ErrNoMatch) {
				t.Errorf("%q expected no match, got: %v", table.pattern, err)
			}
		}
	}
}

func TestCatalogLookup(t *testing.T) {
	if drv := Default.Lookup("STMicro Teseo"); drv != Teseo {
		t.Errorf("expected Teseo, got: %v", drv)
	}
	// lookup is by exact name only
	if drv := Default.Lookup("Teseo"); drv != nil {
		t.Errorf("expected nothing, got: %s", drv.Name)
	}
}

func TestCatalogList(t *testing.T) {
	var buf bytes.Buffer
	Default.List(&buf)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	expected := []string{
		"\t\t\t-x\tGeneric NMEA",
		"-[bn]\t-s\t\t-x\tSiRF binary",
		"-[bn]\t-s\t-c\t-x\tu-blox",
		"\t-s\t-c\t-x\tSTMicro Teseo",
	}
	if len(lines) != len(expected) {
		t.Fatalf("expected %d lines, got: %q", len(expected), lines)
	}
	for i := range expected {
		if lines[i] != expected[i] {
			t.Errorf("line %d expected: %q, got: %q", i, expected[i], lines[i])
		}
	}
}

func TestTriggered(t *testing.T) {
	sentence := func(body string) string {
		return strings.TrimRight(string(nmea.Wrap(body)), "\r\n")
	}

	tables := []struct {
		in       string
		expected *Driver
	}{
		{sentence("PSTMVER,GNSSLIB_8.4.18.25_ARM"), Teseo},
		{sentence("PSRF150,1"), SiRFBinary},
		{sentence("PUBX,00,081350.00,4717.113210,N"), UBlox},
		{sentence("GPTXT,01,01,02,u-blox ag - www.u-blox.com"), UBlox},
		{sentence("GPTXT,01,01,02,DEFAULT LIV CONFIGURATION"), Teseo},
		{sentence("GPTXT,01,01,02,ANTSTATUS=OK"), nil},
		{sentence("GPGGA,172814.0,3723.46587704,N,12202.26957864,W,2,6,1.2,18.893,M,-25.669,M,2.0,0031"), nil},
		{"$GPTXT,01,01,02,u-blox ag - www.u-blox.com*00", nil},
	}

	for _, table := range tables {
		if out := Default.triggered(table.in); out != table.expected {
			t.Errorf("%q expected: %v, got: %v", table.in, table.expected, out)
		}
	}
}

func TestModeString(t *testing.T) {
	if ModeNMEA.String() != "NMEA" || ModeBinary.String() != "BINARY" {
		t.Errorf("unexpected mode names %s %s", ModeNMEA, ModeBinary)
	}
}

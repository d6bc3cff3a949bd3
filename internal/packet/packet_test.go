// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package packet

import (
	"bytes"
	"testing"
)

const gll = "$GPGLL,0000.00000,N,00000.00000,E,070254.000,V,N*45\r\n"

func TestUBXFrame(t *testing.T) {
	// UBX-CFG-RATE 100ms, 1 cycle, GPS time
	frame := UBXFrame(0x06, 0x08, []byte{0x64, 0x00, 0x01, 0x00, 0x01, 0x00})
	expected := []byte{0xB5, 0x62, 0x06, 0x08, 0x06, 0x00, 0x64, 0x00, 0x01, 0x00, 0x01, 0x00, 0x7A, 0x12}
	if !bytes.Equal(frame, expected) {
		t.Errorf("expected: % X, got: % X", expected, frame)
	}
}

func TestSiRFFrame(t *testing.T) {
	frame, err := SiRFFrame([]byte{0x84, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	expected := []byte{0xA0, 0xA2, 0x00, 0x02, 0x84, 0x00, 0x00, 0x84, 0xB0, 0xB3}
	if !bytes.Equal(frame, expected) {
		t.Errorf("expected: % X, got: % X", expected, frame)
	}
}

func TestLexerFamilies(t *testing.T) {
	ubx := UBXFrame(0x0A, 0x04, nil)
	sirf, _ := SiRFFrame([]byte{0x02, 0x01, 0x02})

	tables := []struct {
		name     string
		in       []byte
		expected []Family
	}{
		{"nmea", []byte(gll), []Family{NMEA}},
		{"ubx", ubx, []Family{UBX}},
		{"sirf", sirf, []Family{SiRF}},
		{"mixed", append(append([]byte(gll), ubx...), sirf...), []Family{NMEA, UBX, SiRF}},
		{"leading garbage", append([]byte{0x00, 0xFF, 'x'}, gll...), []Family{NMEA}},
		{"bad checksum", []byte("$GPGLL,0000.00000,N,00000.00000,E,070254.000,V,N*46\r\n"), nil},
	}

	for _, table := range tables {
		var l Lexer
		pkts := l.Feed(table.in)
		if len(pkts) != len(table.expected) {
			t.Errorf("%s: expected %d packets, got %d", table.name, len(table.expected), len(pkts))
			continue
		}
		for i, p := range pkts {
			if p.Family != table.expected[i] {
				t.Errorf("%s: packet %d expected %s, got %s", table.name, i, table.expected[i], p.Family)
			}
		}
	}
}

func TestLexerSplitReads(t *testing.T) {
	var l Lexer
	in := []byte(gll + gll)
	var pkts []Packet
	for i := 0; i < len(in); i += 7 {
		end := i + 7
		if end > len(in) {
			end = len(in)
		}
		pkts = append(pkts, l.Feed(in[i:end])...)
	}
	if len(pkts) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(pkts))
	}
	if s := pkts[1].Sentence(); s != gll[:len(gll)-2] {
		t.Errorf("unexpected sentence %q", s)
	}
}

func TestLexerGarbage(t *testing.T) {
	var l Lexer
	l.Feed([]byte{0x01, 0x02, 0x03, 0x04})
	if l.Garbage() != 4 {
		t.Errorf("expected 4 garbage bytes, got %d", l.Garbage())
	}
	l.Feed([]byte(gll))
	if l.Garbage() != 0 {
		t.Errorf("expected garbage count reset by good packet, got %d", l.Garbage())
	}
}

func TestPacketIDs(t *testing.T) {
	var l Lexer
	pkts := l.Feed(UBXFrame(0x0A, 0x04, []byte{1, 2}))
	if len(pkts) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(pkts))
	}
	if class, id := pkts[0].UBXID(); class != 0x0A || id != 0x04 {
		t.Errorf("unexpected UBX id %02X/%02X", class, id)
	}

	sirf, _ := SiRFFrame([]byte{0x06, 'x'})
	pkts = l.Feed(sirf)
	if len(pkts) != 1 || pkts[0].SiRFID() != 0x06 {
		t.Errorf("unexpected SiRF packets %v", pkts)
	}
}

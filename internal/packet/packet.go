// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

// Package packet splits a raw receiver byte stream into classified packets.
package packet

import (
	"encoding/binary"
	"fmt"

	"gitlab.com/postmarketOS/gnssctl/internal/nmea"
)

// Family is the protocol family a packet belongs to. NMEA is the generic
// text protocol every receiver speaks at power-on; everything above it is a
// vendor binary protocol.
type Family int

const (
	Unknown Family = iota
	NMEA
	SiRF
	UBX
)

func (f Family) String() string {
	switch f {
	case NMEA:
		return "NMEA"
	case SiRF:
		return "SiRF"
	case UBX:
		return "UBX"
	}
	return "unknown"
}

// Packet is one complete, checksum-verified frame.
type Packet struct {
	Family Family
	// Raw is the full frame as received, including framing bytes.
	Raw []byte
}

// Sentence returns the raw text of an NMEA packet without its terminator.
func (p Packet) Sentence() string {
	s := string(p.Raw)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// UBXID returns class and id of a UBX packet.
func (p Packet) UBXID() (class, id byte) {
	if p.Family != UBX || len(p.Raw) < 4 {
		return
	}
	return p.Raw[2], p.Raw[3]
}

// SiRFID returns the message id of a SiRF packet.
func (p Packet) SiRFID() byte {
	if p.Family != SiRF || len(p.Raw) < 5 {
		return 0
	}
	return p.Raw[4]
}

const (
	maxNMEA    = 255
	maxPayload = 4096
)

// Lexer accumulates bytes across reads and emits packets in arrival order.
type Lexer struct {
	buf     []byte
	garbage int
}

// Garbage returns the number of bytes discarded since the last good packet.
func (l *Lexer) Garbage() int {
	return l.garbage
}

// Reset drops any partial frame and the garbage count.
func (l *Lexer) Reset() {
	l.buf = l.buf[:0]
	l.garbage = 0
}

// Feed appends data to the lexer and returns every packet completed by it.
func (l *Lexer) Feed(data []byte) (pkts []Packet) {
	l.buf = append(l.buf, data...)
	for len(l.buf) > 0 {
		p, n, ok := l.next()
		if n == 0 {
			// need more bytes
			break
		}
		if ok {
			pkts = append(pkts, p)
			l.garbage = 0
		} else {
			l.garbage += n
		}
		l.buf = l.buf[n:]
	}
	if len(l.buf) == 0 {
		l.buf = nil
	}
	return
}

// next inspects the head of the buffer. n is the number of bytes consumed;
// zero means the frame is incomplete. ok is false when the consumed bytes
// were garbage.
func (l *Lexer) next() (p Packet, n int, ok bool) {
	b := l.buf
	switch b[0] {
	case '$':
		return lexNMEA(b)
	case 0xB5:
		if len(b) < 2 {
			return p, 0, false
		}
		if b[1] != 0x62 {
			return p, 1, false
		}
		return lexUBX(b)
	case 0xA0:
		if len(b) < 2 {
			return p, 0, false
		}
		if b[1] != 0xA2 {
			return p, 1, false
		}
		return lexSiRF(b)
	}
	return p, 1, false
}

func lexNMEA(b []byte) (p Packet, n int, ok bool) {
	for i := 1; i < len(b); i++ {
		if i > maxNMEA {
			return p, 1, false
		}
		switch b[i] {
		case '$':
			// a new sentence started before this one ended
			return p, i, false
		case '\n':
			raw := b[:i+1]
			if _, err := nmea.Verify(string(raw)); err != nil {
				return p, i + 1, false
			}
			return Packet{Family: NMEA, Raw: clone(raw)}, i + 1, true
		}
	}
	return p, 0, false
}

func lexUBX(b []byte) (p Packet, n int, ok bool) {
	if len(b) < 6 {
		return p, 0, false
	}
	length := int(binary.LittleEndian.Uint16(b[4:6]))
	if length > maxPayload {
		return p, 2, false
	}
	total := 6 + length + 2
	if len(b) < total {
		return p, 0, false
	}
	ck := ubxChecksum(b[2 : 6+length])
	if ck[0] != b[6+length] || ck[1] != b[7+length] {
		return p, 2, false
	}
	return Packet{Family: UBX, Raw: clone(b[:total])}, total, true
}

func lexSiRF(b []byte) (p Packet, n int, ok bool) {
	if len(b) < 4 {
		return p, 0, false
	}
	length := int(binary.BigEndian.Uint16(b[2:4]))
	if length > maxPayload {
		return p, 2, false
	}
	total := 4 + length + 4
	if len(b) < total {
		return p, 0, false
	}
	payload := b[4 : 4+length]
	sum := binary.BigEndian.Uint16(b[4+length : 6+length])
	if sum != sirfChecksum(payload) || b[total-2] != 0xB0 || b[total-1] != 0xB3 {
		return p, 2, false
	}
	return Packet{Family: SiRF, Raw: clone(b[:total])}, total, true
}

// ubxChecksum is the 8-bit Fletcher checksum over class, id, length and
// payload.
func ubxChecksum(msg []byte) (ck [2]byte) {
	for _, c := range msg {
		ck[0] += c
		ck[1] += ck[0]
	}
	return
}

func sirfChecksum(payload []byte) uint16 {
	var sum uint16
	for _, c := range payload {
		sum += uint16(c)
	}
	return sum & 0x7FFF
}

// UBXFrame builds a UBX frame: sync chars, class, id, little endian length,
// payload and checksum.
func UBXFrame(class, id byte, payload []byte) []byte {
	frame := []byte{0xB5, 0x62, class, id, 0, 0}
	binary.LittleEndian.PutUint16(frame[4:6], uint16(len(payload)))
	frame = append(frame, payload...)
	ck := ubxChecksum(frame[2:])
	return append(frame, ck[0], ck[1])
}

// SiRFFrame wraps a SiRF binary payload (message id first) in its start
// sequence, big endian length, checksum and end sequence.
func SiRFFrame(payload []byte) ([]byte, error) {
	if len(payload) > 0x7FFF {
		return nil, fmt.Errorf("packet.SiRFFrame: payload too long (%d bytes)", len(payload))
	}
	frame := []byte{0xA0, 0xA2, 0, 0}
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	frame = append(frame, payload...)
	frame = binary.BigEndian.AppendUint16(frame, sirfChecksum(payload))
	return append(frame, 0xB0, 0xB3), nil
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package nmea

import (
	"fmt"
	"strconv"
	"strings"
)

// Sentence is an outbound NMEA 0183 sentence. Type carries the talker and
// sentence identifier, e.g. "PSRF100" or "PSTMSETPAR".
type Sentence struct {
	Type string
	Data []string
}

func checksum(s string) string {
	var sum uint8
	for i := 0; i < len(s); i++ {
		sum ^= s[i]
	}

	return fmt.Sprintf("%02X", sum)
}

func (s Sentence) body() string {
	if len(s.Data) == 0 {
		// receivers expect the type to be followed by a comma even with no
		// fields
		return s.Type + ","
	}
	return s.Type + "," + strings.Join(s.Data, ",")
}

func (s Sentence) String() string {
	b := s.body()
	return fmt.Sprintf("$%s*%s", b, checksum(b))
}

// Bytes returns the sentence ready for the wire, terminated by CRLF.
func (s Sentence) Bytes() []byte {
	return []byte(s.String() + "\r\n")
}

// Wrap frames an arbitrary sentence body. A leading '$' and any existing
// checksum or line terminator are stripped before the frame is rebuilt.
func Wrap(body string) []byte {
	body = strings.TrimRight(body, "\r\n")
	body = strings.TrimPrefix(body, "$")
	if i := strings.IndexByte(body, '*'); i >= 0 {
		body = body[:i]
	}
	return []byte(fmt.Sprintf("$%s*%s\r\n", body, checksum(body)))
}

// Verify checks a received sentence, with or without its line terminator,
// and returns the text between '$' and '*'. Sentences without a checksum are
// accepted as-is, since some receivers omit it on proprietary output.
func Verify(raw string) (body string, err error) {
	raw = strings.TrimRight(raw, "\r\n")
	if !strings.HasPrefix(raw, "$") {
		err = fmt.Errorf("nmea.Verify: missing '$' in %q", raw)
		return
	}
	body = raw[1:]
	i := strings.LastIndexByte(body, '*')
	if i < 0 {
		return
	}
	sum := body[i+1:]
	body = body[:i]
	if len(sum) != 2 {
		err = fmt.Errorf("nmea.Verify: malformed checksum in %q", raw)
		return
	}
	want, perr := strconv.ParseUint(sum, 16, 8)
	if perr != nil {
		err = fmt.Errorf("nmea.Verify: %w", perr)
		return
	}
	if got := checksum(body); got != fmt.Sprintf("%02X", want) {
		err = fmt.Errorf("nmea.Verify: checksum %s, expected %02X", got, want)
	}
	return
}

// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeEscapes(t *testing.T) {
	tables := []struct {
		in       string
		expected []byte
		valid    bool
	}{
		{"$PSRF100,1,4800,8,1,0", []byte("$PSRF100,1,4800,8,1,0"), true},
		{`\xa0\xA2\x00\x02`, []byte{0xa0, 0xa2, 0x00, 0x02}, true},
		{`a\r\n`, []byte("a\r\n"), true},
		{`\e\b\f\t\v\\`, []byte{0x1b, '\b', '\f', '\t', '\v', '\\'}, true},
		{`\q`, nil, false},
		{`abc\`, nil, false},
		{`\x4`, nil, false},
		{`\xzz`, nil, false},
		{"", nil, false},
	}

	for _, table := range tables {
		out, err := DecodeEscapes(table.in)
		if !table.valid {
			if !errors.Is(err, ErrConfig) {
				t.Errorf("%q expected a configuration error, got: %v", table.in, err)
			}
			continue
		}
		if err != nil || !bytes.Equal(out, table.expected) {
			t.Errorf("%q expected: %q, got: %q (%v)", table.in, table.expected, out, err)
		}
	}
}

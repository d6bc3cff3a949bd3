// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"fmt"
	"strconv"
)

// DecodeEscapes turns the C-style escapes \b \e \f \n \r \t \v \\ and \xHH
// into the bytes they name. Anything else after a backslash is an error, as
// is an empty result.
func DecodeEscapes(s string) (out []byte, err error) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(s) {
			return nil, fmt.Errorf("%w: trailing backslash in %q", ErrConfig, s)
		}
		switch s[i] {
		case 'b':
			out = append(out, '\b')
		case 'e':
			out = append(out, 0x1b)
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'v':
			out = append(out, '\v')
		case '\\':
			out = append(out, '\\')
		case 'x':
			if i+2 >= len(s) {
				return nil, fmt.Errorf("%w: short hex escape in %q", ErrConfig, s)
			}
			v, perr := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if perr != nil {
				return nil, fmt.Errorf("%w: bad hex escape in %q", ErrConfig, s)
			}
			out = append(out, byte(v))
			i += 2
		default:
			return nil, fmt.Errorf("%w: unknown escape \\%c", ErrConfig, s[i])
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty control string", ErrConfig)
	}
	return
}

// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import "time"

// SettleDelay is how long slow hardware gets to apply a change.
var SettleDelay = 50 * time.Millisecond

type drainer interface {
	Drain() error
}

// Settle flushes queued output, waits SettleDelay and flushes again.
// Drain failures are ignored.
func Settle(d drainer) {
	_ = d.Drain()
	time.Sleep(SettleDelay)
	_ = d.Drain()
}

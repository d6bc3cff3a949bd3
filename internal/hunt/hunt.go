// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

// Package hunt listens to an unidentified receiver until its protocol family
// is known.
package hunt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"gitlab.com/postmarketOS/gnssctl/internal/packet"
)

// DefaultCeiling must be at least the largest number of subtype probes any
// driver issues, so that every probe gets a chance to be answered before
// the hunt gives up on text-only output.
const DefaultCeiling = 15

var (
	ErrTimedOut = errors.New("packet recognition timed out")
	ErrDevice   = errors.New("device error")
)

type State int

const (
	Probing State = iota
	Synced
	TimedOut
	Failed
)

func (s State) String() string {
	switch s {
	case Probing:
		return "probing"
	case Synced:
		return "synced"
	case TimedOut:
		return "timed out"
	}
	return "failed"
}

// Status is the outcome of one multiplexed read.
type Status int

const (
	Ready Status = iota
	// Unready means the source is no longer worth listening to.
	Unready
	// Error is an unrecoverable device fault.
	Error
)

// Input is one tracked descriptor.
type Input struct {
	Name string
	R    io.Reader
}

// Chunk is whatever one read on an input produced.
type Chunk struct {
	Source string
	Data   []byte
	Err    error

	// tracking generation of the pump that read it
	gen int
}

// Delta lists descriptors a driver wants added to or dropped from the
// tracked set.
type Delta struct {
	Added   []Input
	Removed []string
}

type Result struct {
	Status  Status
	Packets []packet.Packet
	Delta   Delta
}

// Poller classifies the bytes read from tracked inputs. Poll only splits a
// chunk into packets; the hunter then hands them to Handle one at a time and
// stops at the first packet that settles the identity.
type Poller interface {
	Poll(c Chunk) Result
	Handle(p packet.Packet)
	// Native returns the packet family of the driver currently bound to
	// the device.
	Native() packet.Family
}

type Hunter struct {
	Poller  Poller
	Timeout time.Duration
	Ceiling int
	Log     *zap.Logger

	state  State
	rounds int
}

func New(p Poller, timeout time.Duration, log *zap.Logger) *Hunter {
	return &Hunter{
		Poller:  p,
		Timeout: timeout,
		Ceiling: DefaultCeiling,
		Log:     log,
	}
}

func (h *Hunter) State() State {
	return h.state
}

// Rounds is the number of text packets seen while undecided.
func (h *Hunter) Rounds() int {
	return h.rounds
}

// tracking is one input being read by its own pump.
type tracking struct {
	gen  int
	stop context.CancelFunc
}

// Run multiplexes reads across inputs until the device's protocol is
// resolved. It returns ErrTimedOut when Timeout elapses first, an error
// wrapping ErrDevice on a device fault, or the cause of ctx when ctx is
// cancelled. A zero Timeout means no deadline.
func (h *Hunter) Run(ctx context.Context, inputs ...Input) (err error) {
	h.state = Probing
	h.rounds = 0

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan Chunk)
	tracked := make(map[string]tracking)
	gen := 0
	track := func(in Input) {
		if _, ok := tracked[in.Name]; ok {
			return
		}
		gen++
		pctx, stop := context.WithCancel(ctx)
		tracked[in.Name] = tracking{gen: gen, stop: stop}
		h.Log.Debug("tracking input", zap.String("input", in.Name))
		go pump(pctx, in, gen, chunks)
	}
	untrack := func(name string) {
		if t, ok := tracked[name]; ok {
			t.stop()
			delete(tracked, name)
			h.Log.Debug("dropping input", zap.String("input", name))
		}
	}
	for _, in := range inputs {
		track(in)
	}

	var expired <-chan time.Time
	if h.Timeout > 0 {
		deadline := time.NewTimer(h.Timeout)
		defer deadline.Stop()
		expired = deadline.C
	}

	for h.state == Probing {
		select {
		case <-ctx.Done():
			h.state = Failed
			return context.Cause(ctx)
		case <-expired:
			h.state = TimedOut
			return ErrTimedOut
		case c := <-chunks:
			if t, ok := tracked[c.Source]; !ok || t.gen != c.gen {
				continue
			}
			res := h.Poller.Poll(c)
			switch res.Status {
			case Error:
				h.state = Failed
				return fmt.Errorf("hunt/Hunter.Run: %w on %s", ErrDevice, c.Source)
			case Unready:
				untrack(c.Source)
			}
			for _, in := range res.Delta.Added {
				track(in)
			}
			for _, name := range res.Delta.Removed {
				untrack(name)
			}
			for _, p := range res.Packets {
				h.Poller.Handle(p)
				if h.observe(p) {
					h.state = Synced
					break
				}
			}
		}
	}
	return
}

// observe reports whether p settles the device's identity.
func (h *Hunter) observe(p packet.Packet) bool {
	// anything non-NMEA is an immediate lock
	if p.Family != packet.NMEA || h.Poller.Native() > packet.NMEA {
		h.Log.Debug("sync on native packet", zap.Stringer("family", p.Family))
		return true
	}
	// NMEA alone proves nothing, but after enough rounds the driver
	// probes have had their chance to reveal a secret identity
	h.rounds++
	if h.rounds >= h.Ceiling {
		h.Log.Debug("sync on text packets", zap.Int("rounds", h.rounds))
		return true
	}
	return false
}

func pump(ctx context.Context, in Input, gen int, out chan<- Chunk) {
	buf := make([]byte, 4096)
	for {
		n, err := in.R.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- Chunk{Source: in.Name, Data: data, gen: gen}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case out <- Chunk{Source: in.Name, Err: err, gen: gen}:
			case <-ctx.Done():
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

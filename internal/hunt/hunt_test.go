// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package hunt

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/postmarketOS/gnssctl/internal/packet"
)

// scriptReader hands out its chunks one Read at a time, then blocks until
// released.
type scriptReader struct {
	chunks  [][]byte
	release chan struct{}
}

func newScript(t *testing.T, chunks ...string) *scriptReader {
	r := &scriptReader{release: make(chan struct{})}
	for _, c := range chunks {
		r.chunks = append(r.chunks, []byte(c))
	}
	t.Cleanup(func() { close(r.release) })
	return r
}

func (r *scriptReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		<-r.release
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

// fakePoller turns each byte of a chunk into an outcome: 'N' a text packet,
// 'U' a binary packet, 'E' a device error, 'A' registers the aux input and
// 'R' drops it.
type fakePoller struct {
	native  packet.Family
	aux     Input
	polled  []string
	handled []packet.Family
}

func (f *fakePoller) Handle(p packet.Packet) {
	f.handled = append(f.handled, p.Family)
}

func (f *fakePoller) Native() packet.Family {
	return f.native
}

func (f *fakePoller) Poll(c Chunk) (res Result) {
	f.polled = append(f.polled, c.Source)
	if c.Err != nil {
		res.Status = Error
		return
	}
	for _, b := range c.Data {
		switch b {
		case 'N':
			res.Packets = append(res.Packets, packet.Packet{Family: packet.NMEA})
		case 'U':
			res.Packets = append(res.Packets, packet.Packet{Family: packet.UBX})
		case 'E':
			res.Status = Error
		case 'A':
			res.Delta.Added = append(res.Delta.Added, f.aux)
		case 'R':
			res.Delta.Removed = append(res.Delta.Removed, f.aux.Name)
		}
	}
	return
}

func newHunter(p Poller, timeout time.Duration, ceiling int) *Hunter {
	h := New(p, timeout, zap.NewNop())
	h.Ceiling = ceiling
	return h
}

func TestSyncOnBinaryPacket(t *testing.T) {
	p := &fakePoller{native: packet.NMEA}
	h := newHunter(p, 5*time.Second, 15)

	err := h.Run(context.Background(), Input{Name: "dev", R: newScript(t, "NUNN")})
	require.NoError(t, err)
	assert.Equal(t, Synced, h.State())
	// only the packet before the binary one counted
	assert.Equal(t, 1, h.Rounds())
	// nothing after the binary packet reaches the device
	assert.Equal(t, []packet.Family{packet.NMEA, packet.UBX}, p.handled)
}

func TestSyncOnNativeDriver(t *testing.T) {
	p := &fakePoller{native: packet.SiRF}
	h := newHunter(p, 5*time.Second, 15)

	err := h.Run(context.Background(), Input{Name: "dev", R: newScript(t, "N")})
	require.NoError(t, err)
	assert.Equal(t, Synced, h.State())
	assert.Equal(t, 0, h.Rounds())
}

func TestSyncAtCeiling(t *testing.T) {
	tables := []struct {
		chunks   []string
		expected State
		rounds   int
	}{
		{[]string{"N", "N", "N", "N"}, TimedOut, 4},
		{[]string{"N", "N", "N", "N", "N"}, Synced, 5},
		{[]string{"NNNNNNN"}, Synced, 5},
	}

	for _, table := range tables {
		p := &fakePoller{native: packet.NMEA}
		h := newHunter(p, 200*time.Millisecond, 5)
		err := h.Run(context.Background(), Input{Name: "dev", R: newScript(t, table.chunks...)})
		if table.expected == TimedOut {
			assert.ErrorIs(t, err, ErrTimedOut)
		} else {
			assert.NoError(t, err)
		}
		assert.Equal(t, table.expected, h.State(), "chunks %v", table.chunks)
		assert.Equal(t, table.rounds, h.Rounds(), "chunks %v", table.chunks)
	}
}

func TestZeroTimeoutHasNoDeadline(t *testing.T) {
	p := &fakePoller{native: packet.NMEA}
	h := newHunter(p, 0, 15)

	r := &gateReader{feed: make(chan []byte, 1)}
	time.AfterFunc(50*time.Millisecond, func() { r.feed <- []byte("U") })
	t.Cleanup(func() { close(r.feed) })

	err := h.Run(context.Background(), Input{Name: "dev", R: r})
	require.NoError(t, err)
	assert.Equal(t, Synced, h.State())
}

func TestTimeoutOnSilentDevice(t *testing.T) {
	p := &fakePoller{native: packet.NMEA}
	h := newHunter(p, 100*time.Millisecond, 15)

	start := time.Now()
	err := h.Run(context.Background(), Input{Name: "dev", R: newScript(t)})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, TimedOut, h.State())
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestDeviceError(t *testing.T) {
	p := &fakePoller{native: packet.NMEA}
	h := newHunter(p, 5*time.Second, 15)

	err := h.Run(context.Background(), Input{Name: "dev", R: newScript(t, "NE")})
	require.ErrorIs(t, err, ErrDevice)
	assert.Equal(t, Failed, h.State())
}

func TestCancellationCause(t *testing.T) {
	p := &fakePoller{native: packet.NMEA}
	h := newHunter(p, 5*time.Second, 15)
	stop := errors.New("stop")

	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(20*time.Millisecond, func() { cancel(stop) })

	err := h.Run(ctx, Input{Name: "dev", R: newScript(t)})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, Failed, h.State())
}

func TestDescriptorDelta(t *testing.T) {
	p := &fakePoller{native: packet.NMEA}
	p.aux = Input{Name: "aux", R: newScript(t, "U")}
	h := newHunter(p, 5*time.Second, 15)

	// the device registers the aux input, whose binary packet then locks
	err := h.Run(context.Background(), Input{Name: "dev", R: newScript(t, "A")})
	require.NoError(t, err)
	assert.Equal(t, Synced, h.State())
	assert.Equal(t, []string{"dev", "aux"}, p.polled)
}

func TestRemovedDescriptorIgnored(t *testing.T) {
	p := &fakePoller{native: packet.NMEA}
	p.aux = Input{Name: "aux", R: newScript(t, "U")}
	h := newHunter(p, 200*time.Millisecond, 15)

	// registered and dropped in the same read; its packet never counts
	err := h.Run(context.Background(), Input{Name: "dev", R: newScript(t, "AR")})
	require.ErrorIs(t, err, ErrTimedOut)
	assert.NotContains(t, p.polled, "aux")
}

// gateReader blocks each Read until a chunk is fed, and counts the reads.
type gateReader struct {
	feed  chan []byte
	reads int32
}

func (r *gateReader) Read(p []byte) (int, error) {
	atomic.AddInt32(&r.reads, 1)
	b, ok := <-r.feed
	if !ok {
		return 0, io.EOF
	}
	return copy(p, b), nil
}

func TestDroppedInputStopsReading(t *testing.T) {
	aux := &gateReader{feed: make(chan []byte, 1)}
	t.Cleanup(func() { close(aux.feed) })
	p := &fakePoller{native: packet.NMEA}
	p.aux = Input{Name: "aux", R: aux}
	h := newHunter(p, 300*time.Millisecond, 15)

	// aux is registered and then dropped while its first read is pending
	time.AfterFunc(50*time.Millisecond, func() { aux.feed <- []byte("N") })
	err := h.Run(context.Background(), Input{Name: "dev", R: newScript(t, "A", "R")})
	require.ErrorIs(t, err, ErrTimedOut)

	assert.Equal(t, int32(1), atomic.LoadInt32(&aux.reads))
	assert.NotContains(t, p.polled, "aux")
}

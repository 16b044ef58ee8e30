package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory backend stub, letting fdTable tests control
// exactly what readiness is reported without a real poller.
type fakeBackend struct {
	masks  map[int]ioMask
	events []readinessEvent
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{masks: make(map[int]ioMask)}
}

func (b *fakeBackend) SetMask(fd int, mask ioMask) error { b.masks[fd] = mask; return nil }
func (b *fakeBackend) Clear(fd int) error                { delete(b.masks, fd); return nil }
func (b *fakeBackend) Wait(int) ([]readinessEvent, error) { return b.events, nil }
func (b *fakeBackend) Close() error                      { return nil }

func TestFDTableWatchIORecomputesMask(t *testing.T) {
	b := newFakeBackend()
	tbl := newFDTable(b)

	require.NoError(t, tbl.watchIO(5, ioCallbacks{read: func() {}}))
	w, ok := tbl.lookup(5)
	require.True(t, ok)
	assert.True(t, w.mask.has(maskRead))
	assert.False(t, w.mask.has(maskWrite))
	assert.Equal(t, maskRead, b.masks[5])

	require.NoError(t, tbl.watchIO(5, ioCallbacks{write: func() {}}))
	assert.True(t, w.mask.has(maskRead))
	assert.True(t, w.mask.has(maskWrite))
}

func TestFDTableUnwatchIORemovesWatcherWhenMaskEmpty(t *testing.T) {
	b := newFakeBackend()
	tbl := newFDTable(b)
	require.NoError(t, tbl.watchIO(5, ioCallbacks{read: func() {}}))

	require.NoError(t, tbl.unwatchIO(5, true, false, false))
	_, ok := tbl.lookup(5)
	assert.False(t, ok)
	_, ok = b.masks[5]
	assert.False(t, ok)
}

func TestFDTableUnwatchIOPartialLeavesWatcherRegistered(t *testing.T) {
	b := newFakeBackend()
	tbl := newFDTable(b)
	require.NoError(t, tbl.watchIO(5, ioCallbacks{read: func() {}, write: func() {}}))

	require.NoError(t, tbl.unwatchIO(5, false, true, false))
	w, ok := tbl.lookup(5)
	require.True(t, ok)
	assert.True(t, w.mask.has(maskRead))
	assert.False(t, w.mask.has(maskWrite))
}

func TestFDTableFirePassOrdersReadsBeforeWritesBeforeHangups(t *testing.T) {
	b := newFakeBackend()
	tbl := newFDTable(b)

	var order []string
	require.NoError(t, tbl.watchIO(1, ioCallbacks{
		read:   func() { order = append(order, "read1") },
		write:  func() { order = append(order, "write1") },
		hangup: func() { order = append(order, "hangup1") },
	}))
	require.NoError(t, tbl.watchIO(2, ioCallbacks{
		read:  func() { order = append(order, "read2") },
		write: func() { order = append(order, "write2") },
	}))

	entries := tbl.collect([]readinessEvent{
		{fd: 2, mask: maskRead | maskWrite},
		{fd: 1, mask: maskRead | maskWrite | maskHangup},
	})
	n := tbl.firePass(entries)

	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"read2", "read1", "write2", "write1", "hangup1"}, order)
}

func TestFDTableCollectMergesDuplicateEventsPerFD(t *testing.T) {
	b := newFakeBackend()
	tbl := newFDTable(b)
	require.NoError(t, tbl.watchIO(3, ioCallbacks{read: func() {}, write: func() {}}))

	entries := tbl.collect([]readinessEvent{
		{fd: 3, mask: maskRead},
		{fd: 3, mask: maskWrite},
	})
	require.Len(t, entries, 1)
	assert.Equal(t, maskRead|maskWrite, entries[0].mask)
}

func TestFDTableCollectSynthesizesRegularFileReadiness(t *testing.T) {
	b := newFakeBackend()
	tbl := newFDTable(b)
	require.NoError(t, tbl.watchIO(3, ioCallbacks{read: func() {}}))
	w, _ := tbl.lookup(3)
	w.regular = true

	entries := tbl.collect(nil)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].w.fd)
}

func TestFDTableCollectIgnoresUnknownFD(t *testing.T) {
	b := newFakeBackend()
	tbl := newFDTable(b)
	entries := tbl.collect([]readinessEvent{{fd: 99, mask: maskRead}})
	assert.Empty(t, entries)
}

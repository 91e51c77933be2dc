package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	active, streaming int
	throughput        float64
	underruns         int64
}

func (f fakeSource) ActiveVoiceCount() int       { return f.active }
func (f fakeSource) StreamingVoiceCount() int    { return f.streaming }
func (f fakeSource) DiskThroughputMBps() float64 { return f.throughput }
func (f fakeSource) UnderrunCount() int64        { return f.underruns }

type fakeMapSource struct {
	folder             string
	totalSize, preload int64
}

func (f fakeMapSource) Folder() string            { return f.folder }
func (f fakeMapSource) TotalFileSizeBytes() int64 { return f.totalSize }
func (f fakeMapSource) PreloadMemoryBytes() int64 { return f.preload }

func TestSnapshotReflectsSourceAndMap(t *testing.T) {
	var c Counters
	c.SetLoading(true)

	src := fakeSource{active: 3, streaming: 1, throughput: 2.5, underruns: 4}
	m := fakeMapSource{folder: "/instruments/piano", totalSize: 1024, preload: 512}

	got := c.Snapshot(src, m)
	assert.Equal(t, Snapshot{
		Loading:             true,
		LoadedFolder:        "/instruments/piano",
		TotalFileSizeBytes:  1024,
		PreloadMemoryBytes:  512,
		ActiveVoiceCount:    3,
		StreamingVoiceCount: 1,
		DiskThroughputMBps:  2.5,
		UnderrunCount:       4,
	}, got)
}

func TestSnapshotWithNilMapLeavesMapFieldsZero(t *testing.T) {
	var c Counters
	src := fakeSource{active: 1}

	got := c.Snapshot(src, nil)
	assert.Empty(t, got.LoadedFolder)
	assert.Zero(t, got.TotalFileSizeBytes)
	assert.Zero(t, got.PreloadMemoryBytes)
	assert.Equal(t, 1, got.ActiveVoiceCount)
}

func TestSetLoadingTogglesFlag(t *testing.T) {
	var c Counters
	assert.False(t, c.Snapshot(fakeSource{}, nil).Loading)
	c.SetLoading(true)
	assert.True(t, c.Snapshot(fakeSource{}, nil).Loading)
	c.SetLoading(false)
	assert.False(t, c.Snapshot(fakeSource{}, nil).Loading)
}

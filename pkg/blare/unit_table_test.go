package blare

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blarehq/blare/pkg/blare/wasapi"
)

func TestUnitTable(t *testing.T) {
	table := newUnitTable(testLogger())
	assert.Equal(t, "No devices", table.summary())

	table.reset([]wasapi.DeviceInfo{
		{Index: 2, FriendlyName: "HDMI"},
		{Index: 0, FriendlyName: "Speakers"},
	})

	units := table.snapshot()
	require.Len(t, units, 2)
	assert.Equal(t, uint32(0), units[0].Device.Index)
	assert.Equal(t, unitStarting, units[1].Status)

	table.set(0, unitPlaying)
	table.finish(2, errors.New("device invalidated"))
	table.set(7, unitPlaying)

	assert.Equal(t, 1, table.count(unitPlaying))
	assert.Equal(t, "Playing on 1 of 2 devices (1 failed)", table.summary())

	table.finish(0, nil)
	assert.Equal(t, 1, table.count(unitStopped))

	table.reset(nil)
	assert.Empty(t, table.snapshot())
}

func TestUnitStatusString(t *testing.T) {
	assert.Equal(t, "playing", unitPlaying.String())
	assert.Equal(t, "failed", unitFailed.String())
	assert.Equal(t, "unknown", unitStatus(42).String())
}

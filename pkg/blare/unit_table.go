package blare

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/blarehq/blare/pkg/blare/wasapi"
)

type unitStatus int

const (
	unitStarting unitStatus = iota
	unitPlaying
	unitStopped
	unitFailed
)

func (s unitStatus) String() string {
	switch s {
	case unitStarting:
		return "starting"
	case unitPlaying:
		return "playing"
	case unitStopped:
		return "stopped"
	case unitFailed:
		return "failed"
	}
	return "unknown"
}

// unitState is what the table knows about one device's playback unit.
type unitState struct {
	Device wasapi.DeviceInfo
	Status unitStatus
	Err    error
}

// unitTable tracks the playback units of the current fan-out, keyed by
// collection index.
type unitTable struct {
	logger *zap.SugaredLogger
	lock   sync.Mutex
	m      map[uint32]*unitState
}

func newUnitTable(logger *zap.SugaredLogger) *unitTable {
	return &unitTable{
		logger: logger.Named("units"),
		m:      map[uint32]*unitState{},
	}
}

// reset forgets the previous fan-out and registers devices as starting.
func (t *unitTable) reset(devices []wasapi.DeviceInfo) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.m = make(map[uint32]*unitState, len(devices))
	for _, device := range devices {
		t.m[device.Index] = &unitState{Device: device, Status: unitStarting}
	}
}

func (t *unitTable) set(index uint32, status unitStatus) {
	t.lock.Lock()
	defer t.lock.Unlock()

	u, ok := t.m[index]
	if !ok {
		t.logger.Warnw("Status update for unknown unit", "index", index, "status", status)
		return
	}
	u.Status = status
}

// finish records how a unit ended. A nil error means it was stopped.
func (t *unitTable) finish(index uint32, err error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	u, ok := t.m[index]
	if !ok {
		return
	}
	if err != nil {
		u.Status = unitFailed
		u.Err = err
		return
	}
	u.Status = unitStopped
}

// snapshot returns a copy of every unit ordered by index.
func (t *unitTable) snapshot() []unitState {
	t.lock.Lock()
	defer t.lock.Unlock()

	units := make([]unitState, 0, len(t.m))
	for _, u := range t.m {
		units = append(units, *u)
	}
	sort.Slice(units, func(i, j int) bool {
		return units[i].Device.Index < units[j].Device.Index
	})
	return units
}

func (t *unitTable) count(status unitStatus) int {
	n := 0
	for _, u := range t.snapshot() {
		if u.Status == status {
			n++
		}
	}
	return n
}

// summary is a one-line description for the tray.
func (t *unitTable) summary() string {
	units := t.snapshot()
	if len(units) == 0 {
		return "No devices"
	}

	playing := t.count(unitPlaying)
	failed := t.count(unitFailed)
	if failed == 0 {
		return fmt.Sprintf("Playing on %d of %d devices", playing, len(units))
	}
	return fmt.Sprintf("Playing on %d of %d devices (%d failed)", playing, len(units), failed)
}

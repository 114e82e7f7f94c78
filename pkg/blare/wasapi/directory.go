package wasapi

import (
	"fmt"

	"go.uber.org/zap"
)

// DeviceInfo is a diagnostic snapshot of one enumerated endpoint.
type DeviceInfo struct {
	Index        uint32
	ID           string
	State        DeviceState
	FriendlyName string
	Description  string
}

// Label returns the friendly name, falling back to the id.
func (d DeviceInfo) Label() string {
	if d.FriendlyName != "" {
		return d.FriendlyName
	}
	return d.ID
}

// Directory looks up endpoints through one enumerator. It is bound to the
// apartment the enumerator was created on.
type Directory struct {
	logger *zap.SugaredLogger
	enum   DeviceEnumerator
}

// NewDirectory creates a device enumerator on the current apartment.
func NewDirectory(logger *zap.SugaredLogger, host Host) (*Directory, error) {
	logger = logger.Named("directory")

	enum, err := host.NewDeviceEnumerator()
	if err != nil {
		logger.Warnw("Failed to create device enumerator", "error", err)
		return nil, fmt.Errorf("create device enumerator: %w", err)
	}

	return &Directory{logger: logger, enum: enum}, nil
}

// Devices returns a snapshot of the endpoints matching flow and mask. Devices
// that vanish between Count and Item are skipped.
func (d *Directory) Devices(flow DataFlow, mask DeviceState) ([]DeviceInfo, error) {
	coll, err := d.enum.EnumAudioEndpoints(flow, mask)
	if err != nil {
		d.logger.Warnw("Failed to enumerate endpoints", "flow", flow, "mask", mask, "error", err)
		return nil, fmt.Errorf("enumerate endpoints: %w", err)
	}
	defer coll.Release()

	count, err := coll.Count()
	if err != nil {
		return nil, fmt.Errorf("count endpoints: %w", err)
	}

	infos := make([]DeviceInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		dev, err := coll.Item(i)
		if err != nil {
			d.logger.Debugw("Skipping endpoint", "index", i, "error", err)
			continue
		}

		info, err := d.describe(dev)
		dev.Release()
		if err != nil {
			d.logger.Debugw("Skipping endpoint", "index", i, "error", err)
			continue
		}

		info.Index = i
		infos = append(infos, info)
	}

	d.logger.Debugw("Enumerated endpoints", "flow", flow, "mask", mask, "count", len(infos))
	return infos, nil
}

// Open returns the device at index. The collection is released before
// returning; the caller owns the device.
func (d *Directory) Open(flow DataFlow, mask DeviceState, index uint32) (Device, error) {
	coll, err := d.enum.EnumAudioEndpoints(flow, mask)
	if err != nil {
		return nil, fmt.Errorf("enumerate endpoints: %w", err)
	}
	defer coll.Release()

	dev, err := coll.Item(index)
	if err != nil {
		return nil, fmt.Errorf("open endpoint %d: %w", index, err)
	}
	return dev, nil
}

// Describe reads the identity and display names of dev.
func (d *Directory) Describe(dev Device) (DeviceInfo, error) {
	return d.describe(dev)
}

func (d *Directory) describe(dev Device) (DeviceInfo, error) {
	id, err := dev.ID()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("get device id: %w", err)
	}

	state, err := dev.State()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("get device state: %w", err)
	}

	info := DeviceInfo{ID: id, State: state}

	// names are diagnostic only, so a broken property store is not fatal
	store, err := dev.OpenPropertyStore(StorageRead)
	if err != nil {
		d.logger.Debugw("Failed to open property store", "id", id, "error", err)
		return info, nil
	}
	defer store.Release()

	info.FriendlyName = stringProperty(store, PKeyDeviceFriendlyName)
	if info.FriendlyName == "" {
		// fall back to the adapter name
		info.FriendlyName = stringProperty(store, PKeyDeviceInterfaceFriendlyName)
	}
	info.Description = stringProperty(store, PKeyDeviceDesc)
	return info, nil
}

// Properties dumps every entry of the property store of dev.
func (d *Directory) Properties(dev Device) (map[PropertyKey]PropValue, error) {
	store, err := dev.OpenPropertyStore(StorageRead)
	if err != nil {
		return nil, fmt.Errorf("open property store: %w", err)
	}
	defer store.Release()

	count, err := store.Count()
	if err != nil {
		return nil, fmt.Errorf("count properties: %w", err)
	}

	props := make(map[PropertyKey]PropValue, count)
	for i := uint32(0); i < count; i++ {
		key, err := store.At(i)
		if err != nil {
			return nil, fmt.Errorf("get property key %d: %w", i, err)
		}

		value, err := store.Value(key)
		if err != nil {
			return nil, fmt.Errorf("get property %s: %w", key, err)
		}
		props[key] = value
	}
	return props, nil
}

// Close releases the enumerator.
func (d *Directory) Close() {
	d.enum.Release()
}

func stringProperty(store PropertyStore, key PropertyKey) string {
	v, err := store.Value(key)
	if err != nil {
		return ""
	}
	s, _ := v.AsString()
	return s
}

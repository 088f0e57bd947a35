package gpu

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
)

// ErrNoDevices is returned when no device passes the minimum-capability
// check. The scheduler must refuse to start in that case.
var ErrNoDevices = errors.New("no usable GPU devices")

// DeviceInfo describes the static capability of one accelerator.
type DeviceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MemoryGB int    `json:"memory_gb"`
}

// Prober enumerates accelerator devices. The production prober talks to the
// driver on the inference host; deployments without direct driver access
// declare devices in configuration instead.
type Prober interface {
	Probe() ([]DeviceInfo, error)
}

// ConfigProber parses a device list from configuration, in the form
// "id:memoryGiB" separated by commas, e.g. "0:16,1:16".
type ConfigProber struct {
	Spec string
}

func (p ConfigProber) Probe() ([]DeviceInfo, error) {
	var devices []DeviceInfo
	for _, entry := range strings.Split(p.Spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, memStr, found := strings.Cut(entry, ":")
		if !found {
			return nil, fmt.Errorf("invalid device entry %q (expected id:memoryGiB)", entry)
		}
		mem, err := strconv.Atoi(memStr)
		if err != nil {
			return nil, fmt.Errorf("invalid memory size in %q: %w", entry, err)
		}
		devices = append(devices, DeviceInfo{
			ID:       strings.TrimSpace(id),
			Name:     "configured device " + id,
			MemoryGB: mem,
		})
	}
	return devices, nil
}

// Registry holds the validated device set. It is built once at startup and
// read-only afterwards.
type Registry struct {
	devices []DeviceInfo
}

// NewRegistry probes devices and keeps those meeting the minimum memory
// requirement. Returns ErrNoDevices when the validated set is empty.
func NewRegistry(prober Prober, minMemoryGB int) (*Registry, error) {
	probed, err := prober.Probe()
	if err != nil {
		return nil, fmt.Errorf("probe devices: %w", err)
	}

	var validated []DeviceInfo
	for _, d := range probed {
		if d.MemoryGB < minMemoryGB {
			log.Printf("[gpu] device %s rejected: %d GiB below minimum %d GiB", d.ID, d.MemoryGB, minMemoryGB)
			continue
		}
		log.Printf("[gpu] device %s validated: %s, %d GiB", d.ID, d.Name, d.MemoryGB)
		validated = append(validated, d)
	}

	if len(validated) == 0 {
		return nil, ErrNoDevices
	}
	return &Registry{devices: validated}, nil
}

// Devices returns the validated devices in registration order.
func (r *Registry) Devices() []DeviceInfo {
	out := make([]DeviceInfo, len(r.devices))
	copy(out, r.devices)
	return out
}

// Count returns the number of validated devices.
func (r *Registry) Count() int {
	return len(r.devices)
}

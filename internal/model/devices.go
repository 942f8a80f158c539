package model

import (
	"context"

	"github.com/book-expert/logger"
	"github.com/book-expert/resonator-bridge/internal/core"
)

const (
	logFmtUnsafeDeviceFallback = "Device %s requires the unsafe override, falling back to %s"
	logFmtDeviceNotAllowed     = "Device %s is not in the allowed set, falling back to %s"
	logFmtProbeFailed          = "Device probe failed, assuming CPU only: %v"
	logFmtAutoResolved         = "Auto device resolution selected %s"
)

// DevicePolicy constrains which compute devices the model may be placed on.
type DevicePolicy struct {
	// Allowed lists the permitted devices. An empty list permits everything.
	// The CPU is always permitted as the fallback of last resort.
	Allowed []core.Device

	// AllowUnsafeMPS opts into the Metal backend, which produces unstable
	// output for this model family and is therefore gated off by default.
	AllowUnsafeMPS bool
}

func (p DevicePolicy) permits(device core.Device) bool {
	if device == core.DeviceCPU {
		return true
	}

	if len(p.Allowed) == 0 {
		return true
	}

	for _, allowed := range p.Allowed {
		if allowed == device {
			return true
		}
	}

	return false
}

// autoPreference is the probe order for automatic device resolution.
var autoPreference = []core.Device{core.DeviceMPS, core.DeviceCUDA, core.DeviceCPU}

// resolveDevice turns a requested device into the one the model will actually
// use. Explicit requests are honored unless the policy forbids them; "auto"
// walks the preference order over what the prober reports. Every fallback
// lands on the CPU.
func resolveDevice(
	ctx context.Context,
	requested core.Device,
	policy DevicePolicy,
	prober core.DeviceProber,
	log *logger.Logger,
) core.Device {
	if requested == core.DeviceAuto || requested == "" {
		return resolveAutoDevice(ctx, policy, prober, log)
	}

	if requested == core.DeviceMPS && !policy.AllowUnsafeMPS {
		log.Warn(logFmtUnsafeDeviceFallback, requested, core.DeviceCPU)

		return core.DeviceCPU
	}

	if !policy.permits(requested) {
		log.Warn(logFmtDeviceNotAllowed, requested, core.DeviceCPU)

		return core.DeviceCPU
	}

	return requested
}

func resolveAutoDevice(
	ctx context.Context,
	policy DevicePolicy,
	prober core.DeviceProber,
	log *logger.Logger,
) core.Device {
	probed := []core.Device{core.DeviceCPU}

	if prober != nil {
		available, probeErr := prober.AvailableDevices(ctx)
		if probeErr != nil {
			log.Warn(logFmtProbeFailed, probeErr)
		} else {
			probed = available
		}
	}

	availableSet := make(map[core.Device]struct{}, len(probed))
	for _, device := range probed {
		availableSet[device] = struct{}{}
	}

	for _, candidate := range autoPreference {
		if _, ok := availableSet[candidate]; !ok {
			continue
		}

		if candidate == core.DeviceMPS && !policy.AllowUnsafeMPS {
			continue
		}

		if !policy.permits(candidate) {
			continue
		}

		log.Info(logFmtAutoResolved, candidate)

		return candidate
	}

	return core.DeviceCPU
}

package capability

import (
	"fmt"
	"strings"

	"github.com/nerrad567/voicelink-core/internal/infrastructure/config"
)

// ServerNameFilter derives a device's presence name filter from the
// configured scope.
//
// Mode "device-suffix" pairs each device with the servers whose names end
// in the device's short id: the filter is the configured prefix plus the
// segment after the last '-' of the device id. A device "companion-a1b2c3"
// with prefix "web-ui-hardware-controller/" sees only servers named
// "web-ui-hardware-controller/a1b2c3".
//
// Mode "all" returns the broker's match-all filter; every announced
// server is in scope for every device.
func ServerNameFilter(scope config.ScopeConfig, deviceID string) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("%w: empty device id", ErrInvalidScope)
	}

	switch scope.Mode {
	case config.ScopeModeAll:
		return "#", nil
	case config.ScopeModeDeviceSuffix:
		return scope.Prefix + deviceSuffix(deviceID), nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidScope, scope.Mode)
	}
}

// deviceSuffix returns the segment after the last '-' of the device id,
// or the whole id when it contains none.
func deviceSuffix(deviceID string) string {
	if i := strings.LastIndex(deviceID, "-"); i >= 0 {
		return deviceID[i+1:]
	}
	return deviceID
}

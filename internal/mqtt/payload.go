package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Pump payloads on the togglepump topic. The device firmware treats "0" as on.
const (
	PumpOn  = "0"
	PumpOff = "1"
)

// ParseScalar parses a numeric sensor payload. Empty, non-numeric and
// non-finite payloads report false.
func ParseScalar(payload []byte) (float64, bool) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// FormatPump returns the payload that switches the pump on or off.
func FormatPump(on bool) []byte {
	if on {
		return []byte(PumpOn)
	}
	return []byte(PumpOff)
}

// ParsePump decodes a togglepump payload.
func ParsePump(payload []byte) (on bool, ok bool) {
	switch strings.TrimSpace(string(payload)) {
	case PumpOn:
		return true, true
	case PumpOff:
		return false, true
	}
	return false, false
}

// Device commands sent on devices/{id}/commands.
const (
	CommandAttach = "attach"
	CommandDetach = "detach"
)

// DeviceCommand attaches a tank to, or detaches it from, a sensor device.
type DeviceCommand struct {
	Command string `json:"command"`
	TankID  string `json:"tankId"`
}

// ErrInvalidCommand is returned for unknown commands or a missing tank ID.
var ErrInvalidCommand = errors.New("invalid device command")

// Validate checks the command name and tank ID.
func (c DeviceCommand) Validate() error {
	if c.Command != CommandAttach && c.Command != CommandDetach {
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, c.Command)
	}
	if strings.TrimSpace(c.TankID) == "" {
		return fmt.Errorf("%w: tankId is required", ErrInvalidCommand)
	}
	return nil
}

// FormatDeviceCommand creates the JSON payload for a device command.
func FormatDeviceCommand(c DeviceCommand) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}

// ParseDeviceCommand decodes a device command payload.
func ParseDeviceCommand(payload []byte) (DeviceCommand, error) {
	var c DeviceCommand
	if err := json.Unmarshal(payload, &c); err != nil {
		return DeviceCommand{}, fmt.Errorf("decode device command: %w", err)
	}
	return c, nil
}

package roster

import (
	"sync"
	"time"

	"github.com/srg/plejdctl/internal/meshcodec"
)

// Climate thermostat mode strings, matching interface/plejd_climate.py.
const (
	ModeOff     = "off"
	ModeIdle    = "idle"
	ModeHeating = "heating"
)

// Thresholds and delays ported from interface/plejd_climate.py. Staleness
// is judged in degrees Celsius; delays are seconds, expressed as
// Command.Delay for the owning mesh session to schedule.
const (
	StaleSetpointThreshold         = 2.0
	StaleSetpointRecentWriteWindow = 3.0
	StaleSetpointRecentWriteDiff   = 0.5
	SetpointReadDelay              = 1.0
	LimitReadDelay                 = 0.5
)

// ClimateState is the outward projection of a Climate device.
type ClimateState struct {
	Available          bool
	Mode               string
	CurrentTemperature *float64
	Setpoint           *float64
	Heating            bool
	FloorMinTemp       *float64
	FloorMaxTemp       *float64
	RoomMaxTemp        *float64
	MaxTemp            *float64
}

// Climate is a thermostat output. Grounded in interface/plejd_climate.py,
// including its optimistic-setpoint-cache policy (spec.md §9).
type Climate struct {
	base
	mu    sync.Mutex
	state ClimateState

	lastSetpointWrite time.Time
	now               func() time.Time
}

// NewClimate constructs a Climate device.
func NewClimate(address, rxAddress, deviceAddress byte, name, room string, hidden bool, caps PlejdTraits) *Climate {
	return &Climate{
		base: newBase(address, rxAddress, deviceAddress, name, room, hidden, caps, DeviceClimate),
		now:  time.Now,
		state: ClimateState{
			Mode: ModeOff,
		},
	}
}

func (c *Climate) Project() any {
	c.mu.Lock()
	snapshot := c.state
	c.mu.Unlock()
	snapshot.Available = c.Available()
	return snapshot
}

func (c *Climate) hasAllLimits() bool {
	return c.state.MaxTemp != nil && c.state.FloorMinTemp != nil && c.state.FloorMaxTemp != nil && c.state.RoomMaxTemp != nil
}

// Apply decodes status, setpoint, and limits frames destined for a
// Climate-classified device.
func (c *Climate) Apply(f meshcodec.Frame) ([]Command, bool) {
	switch f.Opcode {
	case meshcodec.OpGroupOutputStateLevel, meshcodec.OpOutputStateLevel:
		status, err := meshcodec.DecodeClimateStatus(f.Payload)
		if err != nil {
			return nil, false
		}
		c.mu.Lock()
		temp := float64(status.CurrentTemperature)
		c.state.CurrentTemperature = &temp
		c.state.Heating = status.Heating
		switch {
		case !status.On:
			c.state.Mode = ModeOff
		case status.Heating:
			c.state.Mode = ModeHeating
		default:
			c.state.Mode = ModeIdle
		}
		snapshot := c.state
		c.mu.Unlock()
		snapshot.Available = c.Available()
		c.notify(snapshot)
		return nil, true

	case meshcodec.OpThermostatSetpoint:
		value, err := meshcodec.DecodeThermostatSetpoint(f.Payload)
		if err != nil {
			return nil, false
		}
		c.mu.Lock()
		accept := true
		if f.CmdType != meshcodec.CmdAck && c.state.Setpoint != nil {
			since := c.now().Sub(c.lastSetpointWrite).Seconds()
			threshold := StaleSetpointThreshold
			if since <= StaleSetpointRecentWriteWindow {
				threshold = StaleSetpointRecentWriteDiff
			}
			diff := value - *c.state.Setpoint
			if diff < 0 {
				diff = -diff
			}
			if diff >= threshold {
				accept = false
			}
		}
		if accept {
			c.state.Setpoint = &value
		}
		snapshot := c.state
		c.mu.Unlock()
		if !accept {
			return nil, false
		}
		snapshot.Available = c.Available()
		c.notify(snapshot)
		return nil, true

	case meshcodec.OpThermostatLimits:
		limits, err := meshcodec.DecodeThermostatLimits(f.Payload)
		if err != nil {
			return nil, false
		}
		c.mu.Lock()
		switch limits.SubID {
		case 0:
			c.state.FloorMinTemp = &limits.Min
			c.state.FloorMaxTemp = &limits.Max
		case 1:
			c.state.RoomMaxTemp = &limits.Max
		default:
			c.state.MaxTemp = &limits.Max
		}
		snapshot := c.state
		c.mu.Unlock()
		snapshot.Available = c.Available()
		c.notify(snapshot)
		return nil, true

	default:
		return nil, false
	}
}

// ApplyPoll updates current temperature from a poll batch record.
func (c *Climate) ApplyPoll(rec meshcodec.PollRecord) bool {
	c.mu.Lock()
	temp := float64(rec.Temperature)
	c.state.CurrentTemperature = &temp
	snapshot := c.state
	c.mu.Unlock()
	snapshot.Available = c.Available()
	c.notify(snapshot)
	return true
}

// OnAvailable schedules the setpoint/limit reads the device needs after
// becoming reachable, per _maybe_schedule_setpoint_read/_maybe_schedule_limit_read.
func (c *Climate) OnAvailable(available bool) []Command {
	if !available {
		return nil
	}
	var cmds []Command
	c.mu.Lock()
	needLimits := !c.hasAllLimits()
	c.mu.Unlock()

	cmds = append(cmds, Command{Frame: meshcodec.NewThermostatSetpointReadFrame(c.address), Delay: SetpointReadDelay})
	if needLimits {
		cmds = append(cmds, Command{Frame: meshcodec.NewThermostatLimitsReadFrame(c.address, 0), Delay: LimitReadDelay})
	}
	return cmds
}

// SetTemperature writes a new target setpoint and optimistically caches it,
// recording the write time so a stale readback can be rejected.
func (c *Climate) SetTemperature(celsius float64) []Command {
	c.mu.Lock()
	c.state.Setpoint = &celsius
	c.lastSetpointWrite = c.now()
	c.mu.Unlock()
	return []Command{{Frame: meshcodec.NewThermostatSetpointFrame(c.address, int16(celsius*10))}}
}

// SetMode changes the HVAC mode; a no-op if already in the target mode.
func (c *Climate) SetMode(mode string) []Command {
	target := ModeHeating
	wire := meshcodec.ThermostatModeHeat
	if mode == ModeOff {
		target = ModeOff
		wire = meshcodec.ThermostatModeOff
	}

	c.mu.Lock()
	if c.state.Mode == target {
		c.mu.Unlock()
		return nil
	}
	c.state.Mode = target
	c.mu.Unlock()

	return []Command{{Frame: meshcodec.NewThermostatModeFrame(c.address, wire)}}
}

// TurnOn sets mode to heating.
func (c *Climate) TurnOn() []Command { return c.SetMode(ModeHeating) }

// TurnOff sets mode to off.
func (c *Climate) TurnOff() []Command { return c.SetMode(ModeOff) }

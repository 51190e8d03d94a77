package domain

import "time"

// ControlCommand is the last drive command received from any viewer.
type ControlCommand struct {
	Linear    float64
	Angular   float64
	UpdatedAt time.Time
}

// Neutral returns the command with both axes zeroed.
func (c ControlCommand) Neutral() ControlCommand {
	return ControlCommand{UpdatedAt: c.UpdatedAt}
}

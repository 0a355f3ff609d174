package floodguard

import (
	"fmt"
	"time"
)

type Config struct {
	// max messages admitted per MessageWindow
	MessageLimit  int
	MessageWindow time.Duration
	// max commands admitted per CommandWindow
	CommandLimit  int
	CommandWindow time.Duration
	// how long a mute lasts once imposed
	MuteDuration time.Duration
	// trailing period in which violations count towards escalation
	ViolationLookback time.Duration
	// recent violations (of one kind) at which a message mute is imposed
	MuteThreshold int
	// recent violations (of one kind) at which a disconnect is recommended
	DisconnectThreshold int
}

func DefaultConfig() Config {
	return Config{
		MessageLimit:        10,
		MessageWindow:       10 * time.Second,
		CommandLimit:        5,
		CommandWindow:       5 * time.Second,
		MuteDuration:        30 * time.Second,
		ViolationLookback:   60 * time.Second,
		MuteThreshold:       2,
		DisconnectThreshold: 3,
	}
}

func (c Config) Validate() error {
	if c.MessageLimit <= 0 {
		return fmt.Errorf("invalid message limit: %d", c.MessageLimit)
	}
	if c.MessageWindow <= 0 {
		return fmt.Errorf("invalid message window: %s", c.MessageWindow)
	}
	if c.CommandLimit <= 0 {
		return fmt.Errorf("invalid command limit: %d", c.CommandLimit)
	}
	if c.CommandWindow <= 0 {
		return fmt.Errorf("invalid command window: %s", c.CommandWindow)
	}
	if c.MuteDuration <= 0 {
		return fmt.Errorf("invalid mute duration: %s", c.MuteDuration)
	}
	if c.ViolationLookback <= 0 {
		return fmt.Errorf("invalid violation lookback: %s", c.ViolationLookback)
	}
	if c.MuteThreshold < 1 {
		return fmt.Errorf("invalid mute threshold: %d", c.MuteThreshold)
	}
	if c.DisconnectThreshold <= c.MuteThreshold {
		return fmt.Errorf("disconnect threshold (%d) must be above mute threshold (%d)", c.DisconnectThreshold, c.MuteThreshold)
	}
	return nil
}

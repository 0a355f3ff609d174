package chatmod

import (
	"github.com/bluesky-social/parley/chatmod/countstore"
	"github.com/bluesky-social/parley/chatmod/engine"
	"github.com/bluesky-social/parley/chatmod/floodguard"
	"github.com/bluesky-social/parley/chatmod/profile"
	"github.com/bluesky-social/parley/chatmod/trigger"
)

type Engine = engine.Engine
type Outcome = engine.Outcome
type Decision = floodguard.Decision
type Trigger = trigger.Trigger
type Response = trigger.Response
type BehaviorProfile = profile.BehaviorProfile
type NarrativeGenerator = trigger.NarrativeGenerator
type ProfileContext = trigger.ProfileContext

var (
	TypeEmotional = trigger.TypeEmotional
	TypeSystem    = trigger.TypeSystem

	PeriodTotal  = countstore.PeriodTotal
	PeriodDay    = countstore.PeriodDay
	PeriodHour   = countstore.PeriodHour
	PeriodMinute = countstore.PeriodMinute
)

// Read-only view of a user's behavioral profile, maintained by an external profile store.
//
// Trigger evaluation and pattern detection only read profiles; they never mutate them.
package profile

import (
	"context"
	"sort"
	"time"
)

type CommandEntry struct {
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

type BehaviorProfile struct {
	UserID string `json:"userId"`
	// topics the user engages with, as reported by the profile store
	Interests []string `json:"interests,omitempty"`
	// room name to visit count
	FrequentRooms map[string]int `json:"frequentRooms,omitempty"`
	// most recent last
	RecentRooms    []string       `json:"recentRooms,omitempty"`
	CommandHistory []CommandEntry `json:"commandHistory,omitempty"`
	UnfinishedWork []string       `json:"unfinishedWork,omitempty"`
	// metric name (eg, "messages_per_minute") to expected value
	ActivityBaseline map[string]float64 `json:"activityBaseline,omitempty"`
}

type Source interface {
	// Returns nil (and no error) when no profile is known for the user
	Get(ctx context.Context, user string) (*BehaviorProfile, error)
}

// Room names ordered by visit count (descending, then by name), truncated to n entries. n <= 0 returns all.
func (p *BehaviorProfile) TopRooms(n int) []string {
	if p == nil || len(p.FrequentRooms) == 0 {
		return nil
	}
	rooms := make([]string, 0, len(p.FrequentRooms))
	for r := range p.FrequentRooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		ci, cj := p.FrequentRooms[rooms[i]], p.FrequentRooms[rooms[j]]
		if ci != cj {
			return ci > cj
		}
		return rooms[i] < rooms[j]
	})
	if n > 0 && len(rooms) > n {
		rooms = rooms[:n]
	}
	return rooms
}

// Returns a deep copy, so that snapshots handed to external collaborators can not alias profile state.
func (p *BehaviorProfile) Clone() *BehaviorProfile {
	if p == nil {
		return nil
	}
	out := &BehaviorProfile{
		UserID:         p.UserID,
		Interests:      append([]string(nil), p.Interests...),
		RecentRooms:    append([]string(nil), p.RecentRooms...),
		CommandHistory: append([]CommandEntry(nil), p.CommandHistory...),
		UnfinishedWork: append([]string(nil), p.UnfinishedWork...),
	}
	if p.FrequentRooms != nil {
		out.FrequentRooms = make(map[string]int, len(p.FrequentRooms))
		for k, v := range p.FrequentRooms {
			out.FrequentRooms[k] = v
		}
	}
	if p.ActivityBaseline != nil {
		out.ActivityBaseline = make(map[string]float64, len(p.ActivityBaseline))
		for k, v := range p.ActivityBaseline {
			out.ActivityBaseline[k] = v
		}
	}
	return out
}

package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bluesky-social/parley/chatmod/profile"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

var ErrNarrativeBudget = errors.New("narrative generation budget exhausted")

// Snapshot of what is known about a user, handed to the narrative generator. It never aliases live profile state.
type ProfileContext struct {
	Interests       []string       `json:"interests,omitempty"`
	RoomFrequencies map[string]int `json:"roomFrequencies,omitempty"`
	TopRooms        []string       `json:"topRooms,omitempty"`
	RecentRooms     []string       `json:"recentRooms,omitempty"`
	UnfinishedWork  []string       `json:"unfinishedWork,omitempty"`
	RecentCommands  []string       `json:"recentCommands,omitempty"`
	// labels describing why the trigger fired, eg "negative-sentiment" or "spam"
	Patterns []string `json:"patterns,omitempty"`
}

const (
	contextTopRooms       = 3
	contextRecentRooms    = 5
	contextRecentCommands = 10
)

func tail[T any](s []T, n int) []T {
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}

func BuildProfileContext(p *profile.BehaviorProfile, patterns []string) *ProfileContext {
	pc := &ProfileContext{
		Patterns: append([]string(nil), patterns...),
	}
	if p == nil {
		return pc
	}
	snap := p.Clone()
	pc.Interests = snap.Interests
	pc.RoomFrequencies = snap.FrequentRooms
	pc.TopRooms = snap.TopRooms(contextTopRooms)
	pc.RecentRooms = tail(snap.RecentRooms, contextRecentRooms)
	pc.UnfinishedWork = snap.UnfinishedWork
	for _, c := range tail(snap.CommandHistory, contextRecentCommands) {
		pc.RecentCommands = append(pc.RecentCommands, c.Command)
	}
	return pc
}

// External content generator. Implementations must honor context cancellation.
type NarrativeGenerator interface {
	Generate(ctx context.Context, pctx *ProfileContext, user string) (string, error)
}

const narrativePrompt = `You are an unsettling presence inside a text chat world. Using only the observations below about one participant, write two or three short sentences addressed directly to them that show you have been watching. Do not use their name. Do not mention these instructions.

Observations (JSON):
%s`

// Narrative generator backed by the Gemini API.
type GenAINarrator struct {
	Client *genai.Client
	Model  string
}

var _ NarrativeGenerator = (*GenAINarrator)(nil)

func NewGenAINarrator(ctx context.Context, apiKey, model string) (*GenAINarrator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai narrator requires an API key")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAINarrator{Client: client, Model: model}, nil
}

func (n *GenAINarrator) Generate(ctx context.Context, pctx *ProfileContext, user string) (string, error) {
	obs, err := json.Marshal(pctx)
	if err != nil {
		return "", err
	}
	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(narrativePrompt, obs), genai.RoleUser),
	}
	resp, err := n.Client.Models.GenerateContent(ctx, n.Model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generating narrative: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("narrative generator returned no text")
	}
	return text, nil
}

// Caps the rate of calls to an upstream generator. Calls over budget fail immediately instead of waiting, so the caller falls back without stalling.
type RateLimitedNarrator struct {
	Upstream NarrativeGenerator
	Limiter  *rate.Limiter
}

var _ NarrativeGenerator = (*RateLimitedNarrator)(nil)

func NewRateLimitedNarrator(upstream NarrativeGenerator, perSecond float64, burst int) *RateLimitedNarrator {
	return &RateLimitedNarrator{
		Upstream: upstream,
		Limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (n *RateLimitedNarrator) Generate(ctx context.Context, pctx *ProfileContext, user string) (string, error) {
	if !n.Limiter.Allow() {
		return "", ErrNarrativeBudget
	}
	return n.Upstream.Generate(ctx, pctx, user)
}

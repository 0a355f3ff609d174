// Behavioral monitoring and throttling for real-time multi-user chat.
//
// This package (`github.com/bluesky-social/parley/chatmod`) decides, for every inbound chat message or slash-command, whether to allow it, warn, mute, or recommend a disconnect (see `floodguard`). Separately, admitted messages are scored for negative sentiment and activity anomalies, and may authorize an adversarial "trigger" response (see `trigger`), rate limited by an hourly activation quota with cooldowns (see `quota`).
//
// See `cmd/chatmod` for a daemon built on this package.
package chatmod

// Orchestration of chat moderation: every inbound action passes the flood guard, and admitted messages are scored for adversarial triggers, gated by the activation quota.
//
// The transport layer calls ProcessMessage or ProcessCommand per action, surfaces Decision.Message to the user, closes the connection when Decision.Disconnect is set, and calls DisconnectUser once the connection is gone.
package engine

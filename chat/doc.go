// Package chat connects to Twitch IRC and forwards every chat line to the
// relay as a relay.ChatEvent.
//
// The listener joins every channel in TWITCH_CHANNEL with the bot identity
// TWITCH_BOT_USERNAME. The bot token comes from a TokenFunc: either the
// TWITCH_OAUTH_TOKEN env value or the token stored for provider "twitch" in
// the oauth_tokens table. The token is looked up again on every reconnect, so
// a refreshed token is picked up without a restart.
package chat

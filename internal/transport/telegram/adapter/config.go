package adapter

import "time"

type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIURL overrides the Bot API endpoint. Empty means api.telegram.org.
	APIURL string
	// Offline skips the getMe handshake. Used by tests.
	Offline bool
}

const defaultAPIURL = "https://api.telegram.org"

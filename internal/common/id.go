package common

import (
	"github.com/google/uuid"
)

// NewSubscriptionID generates a unique log subscription ID with the "sub_" prefix
// Format: sub_<uuid>
func NewSubscriptionID() string {
	return "sub_" + uuid.New().String()
}

// NewClientID generates a unique websocket client ID with the "cli_" prefix
func NewClientID() string {
	return "cli_" + uuid.New().String()
}

// Package session stores shopping carts keyed by session ID.
package session

import (
	"time"
)

// DefaultTTL is how long an untouched cart is kept.
const DefaultTTL = 7 * 24 * time.Hour

func cartKey(sessionID string) string {
	return "cart:" + sessionID
}

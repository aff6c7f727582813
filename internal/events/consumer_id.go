package events

import (
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewConsumerID names this process in the consumer group: hostname plus a
// ULID, so restarts never collide with a stale consumer's pending list.
func NewConsumerID() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "astrotarot"
	}
	return host + "-" + strings.ToLower(ulid.Make().String())
}

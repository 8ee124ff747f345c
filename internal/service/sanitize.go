package service

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Profile fields are stored as plain text and may end up rendered by
// arbitrary clients, so any markup is stripped at the door.
var namePolicy = bluemonday.StrictPolicy()

func sanitizeName(name string) string {
	return strings.TrimSpace(namePolicy.Sanitize(name))
}

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalIDPrefix tags identifiers generated on the device before the backend
// has acknowledged the record. An id carrying this prefix has never been
// seen by the server.
const LocalIDPrefix = "local_"

// NewLocalID generates a temporary client-side identifier. The millisecond
// timestamp keeps ids distinguishable by creation time; the uuid fragment
// keeps two records created in the same millisecond distinct.
func NewLocalID() string {
	u := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s%d_%s", LocalIDPrefix, time.Now().UnixMilli(), u[:8])
}

// IsLocalID reports whether the identifier was generated client-side.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

package mlog

import "github.com/google/uuid"

// FormatID formats a change stream ID for logging.
//
// Only the first block of the UUID is shown, which is enough to tell
// concurrent streams apart in a log.
func FormatID(id uuid.UUID) string {
	return id.String()[:8]
}

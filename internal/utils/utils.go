package utils

import "log"

// Must stops the process on wiring errors that leave nothing to run.
func Must(e error) {
	if e != nil {
		log.Fatal(e)
	}
}

// IsAdmin reports whether userID is the configured administrator. With no
// administrator configured nobody is one.
func IsAdmin(adminID *int64, userID int64) bool {
	return adminID != nil && *adminID == userID
}

package utils

import (
	"strings"

	"github.com/google/uuid"
)

func NewConnectionID() string {
	return "conn_" + compactUUID()
}

func NewCallSessionID() string {
	return "call_" + compactUUID()
}

func NewEventID() string {
	return "evt_" + compactUUID()
}

// NewInstanceID identifies this gateway process in cross-instance traffic.
func NewInstanceID() string {
	return "gw_" + compactUUID()[:12]
}

func NewTraceID() string {
	return compactUUID()
}

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

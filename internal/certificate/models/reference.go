package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewReferenceNumber returns an externally visible reference of the form
// CRT-YYYYMMDD-XXXXXXXX. Uniqueness is enforced by the store.
func NewReferenceNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return "CRT-" + now.UTC().Format("20060102") + "-" + suffix
}

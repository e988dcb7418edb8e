// Package localid mints and recognizes identifiers for items that exist only
// on the client until the server assigns a real id.
package localid

import (
	"strconv"
	"time"
)

// Marker prefixes every local-only id
const Marker = '~'

// Generator mints local-only ids from a clock
type Generator struct {
	now func() time.Time
}

// NewGenerator returns a Generator reading the given clock. A nil clock uses time.Now.
func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// Next returns the marker followed by the current unix time in milliseconds.
// Two calls within the same millisecond return the same id.
func (g *Generator) Next() string {
	return string(Marker) + strconv.FormatInt(g.now().UnixMilli(), 10)
}

var defaultGenerator = NewGenerator(nil)

// Generate mints a local-only id from the wall clock
func Generate() string {
	return defaultGenerator.Next()
}

// IsLocalOnly reports whether id has the shape of a local-only id
func IsLocalOnly(id string) bool {
	if len(id) < 2 || id[0] != Marker {
		return false
	}
	for i := 1; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

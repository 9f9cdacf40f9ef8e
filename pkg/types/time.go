package types

import (
	"time"
)

// DisplayLayout is the day-first timestamp used in the workbook and chat
const DisplayLayout = "02/01/2006, 15:04:05"

// LoadLocation returns the named zone, or GMT+8 when it cannot be loaded
func LoadLocation(name string) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.FixedZone("GMT+8", 8*60*60)
}

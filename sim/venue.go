package sim

import (
	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// Venue is a fixed site in the scenario: stadiums, hotels, the
// hospital, transit hubs. Venues double as routing graph nodes and as
// crowding reference points for dynamic incident injection.
type Venue struct {
	ID         string
	Type       string
	Loc        geo.Point // normalized unit-space position
	Lat        float64
	Lon        float64
	Capacity   int
	Accessible bool
}

// Occupancy counts civilians within the venue's local radius.
const venueRadius = 0.02

func (v *Venue) overCapacity(population int) bool {
	if v.Capacity <= 0 {
		return false
	}
	return float64(population) > 0.8*float64(v.Capacity)
}

package market

import "github.com/ManadaHerath/pixelmap-server/internal/mapdata"

// Bounds is the geographic box the map covers.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Portugal is mainland Portugal.
var Portugal = Bounds{MinLat: 36.96, MaxLat: 42.15, MinLon: -9.50, MaxLon: -6.19}

type GPS struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Locate linearly interpolates the cell centre over the box; row 0 is the
// northern edge.
func (b Bounds) Locate(c mapdata.Cell, cols, rows int) GPS {
	if cols <= 0 || rows <= 0 {
		return GPS{}
	}
	fx := (float64(c.Col) + 0.5) / float64(cols)
	fy := (float64(c.Row) + 0.5) / float64(rows)
	return GPS{
		Lat: b.MaxLat - fy*(b.MaxLat-b.MinLat),
		Lon: b.MinLon + fx*(b.MaxLon-b.MinLon),
	}
}

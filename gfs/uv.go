package gfs

import (
	"math"
	"time"

	"kaos.obsgrid.org/grid"
)

const degToRad = math.Pi / 180

// UVIndex derives a clear-sky UV index grid from a total column ozone grid
// using the Madronich approximation:
//
//	UV = 12.5 · cos(θ)^2.42 · (O₃/300)^-1.23
//
// where θ is the solar zenith angle at the given UTC instant. Night cells
// (θ ≥ 90°) are 0; cells with non-positive or non-finite ozone are NaN.
func UVIndex(ozone grid.Grid, at time.Time) grid.Grid {
	h := ozone.Header
	data := make(grid.Values, len(ozone.Data))

	decl := solarDeclination(at)
	utcHours := float64(at.Hour()) + float64(at.Minute())/60 + float64(at.Second())/3600

	for i, o3 := range ozone.Data {
		row := i / h.Nx
		col := i % h.Nx
		lat := h.La1 - float64(row)*h.Dy
		lon := normalizeLon(h.Lo1 + float64(col)*h.Dx)

		if math.IsNaN(o3) || math.IsInf(o3, 0) || o3 <= 0 {
			data[i] = math.NaN()
			continue
		}

		cosZenith := cosSolarZenith(lat, lon, decl, utcHours)
		if cosZenith <= 0 { // θ ≥ 90°, sun below horizon
			data[i] = 0
			continue
		}

		uv := 12.5 * math.Pow(cosZenith, 2.42) * math.Pow(o3/300, -1.23)
		if uv < 0 {
			uv = 0
		}
		data[i] = uv
	}

	return grid.Grid{
		Header: h,
		Data:   data,
		Unit:   "index",
		Name:   "UV Index",
	}
}

// solarDeclination returns the declination in radians from the day of year
// via the standard 23.45° sine formula.
func solarDeclination(at time.Time) float64 {
	n := float64(at.YearDay())
	return 23.45 * degToRad * math.Sin(360.0/365.0*(284+n)*degToRad)
}

// cosSolarZenith computes cos(θ) from latitude, longitude and UTC time.
// Local solar time is UTC shifted by 15° of longitude per hour; the hour
// angle is 15° per hour from solar noon.
func cosSolarZenith(lat, lon, decl, utcHours float64) float64 {
	solarTime := utcHours + lon/15
	hourAngle := (solarTime - 12) * 15 * degToRad
	latRad := lat * degToRad
	return math.Sin(latRad)*math.Sin(decl) + math.Cos(latRad)*math.Cos(decl)*math.Cos(hourAngle)
}

// normalizeLon maps a longitude to [-180, 180).
func normalizeLon(lon float64) float64 {
	for lon >= 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

package translator

import (
	"math"
)

const cprScale = 131072.0

// cprNL returns the number of longitude zones at a latitude
func cprNL(lat float64) int {
	lat = math.Abs(lat)
	switch {
	case lat == 0:
		return 59
	case lat == 87:
		return 2
	case lat > 87:
		return 1
	}
	a := 1 - math.Cos(math.Pi/(2*15))
	b := math.Pow(math.Cos(math.Pi/180*lat), 2)
	return int(math.Floor(2 * math.Pi / math.Acos(1-a/b)))
}

func cprMod(a, b int) int {
	r := a % b
	if r < 0 {
		r += b
	}
	return r
}

// decodeAirborneCPR resolves an even/odd pair of airborne positions. The
// result is for whichever of the two was received last.
func decodeAirborneCPR(even, odd cprSample, evenIsLatest bool) (lat, lon float64, ok bool) {
	latE, latO := float64(even.lat)/cprScale, float64(odd.lat)/cprScale
	lonE, lonO := float64(even.lon)/cprScale, float64(odd.lon)/cprScale

	j := int(math.Floor(59*latE - 60*latO + 0.5))
	latEven := 360.0 / 60 * (float64(cprMod(j, 60)) + latE)
	latOdd := 360.0 / 59 * (float64(cprMod(j, 59)) + latO)
	if latEven >= 270 {
		latEven -= 360
	}
	if latOdd >= 270 {
		latOdd -= 360
	}
	if cprNL(latEven) != cprNL(latOdd) {
		// the pair straddles a zone boundary
		return 0, 0, false
	}

	var ni int
	if evenIsLatest {
		lat = latEven
		nl := cprNL(lat)
		ni = max(nl, 1)
		m := int(math.Floor(lonE*float64(nl-1) - lonO*float64(nl) + 0.5))
		lon = 360.0 / float64(ni) * (float64(cprMod(m, ni)) + lonE)
	} else {
		lat = latOdd
		nl := cprNL(lat)
		ni = max(nl-1, 1)
		m := int(math.Floor(lonE*float64(nl-1) - lonO*float64(nl) + 0.5))
		lon = 360.0 / float64(ni) * (float64(cprMod(m, ni)) + lonO)
	}
	if lon >= 180 {
		lon -= 360
	}
	if lat < -90 || lat > 90 {
		return 0, 0, false
	}
	return lat, lon, true
}

package pricing

import (
	"hash/fnv"
	"strings"

	"github.com/shopspring/decimal"
)

// DeliveryEstimator maps a delivery address to a distance from the restaurant
// and a tiered fee. The distance estimate is a deterministic stand-in for a
// real geocoding call.
type DeliveryEstimator struct {
	Origin  string
	BaseFee decimal.Decimal
}

var nearbyKeywords = []string{"imota", "kajola", "gbotifa"}
var cityKeywords = []string{"lagos", "island", "mainland"}

// EstimateDistanceKm derives a stable pseudo-distance from the address text.
// Addresses in the restaurant's own area land within 3km, recognizable city
// addresses within 5-25km, everything else in between.
func (e *DeliveryEstimator) EstimateDistanceKm(address string) float64 {
	lower := strings.ToLower(address)

	lo, hi := 0.5, 25.0
	for _, kw := range nearbyKeywords {
		if strings.Contains(lower, kw) {
			lo, hi = 0.5, 3.0
			break
		}
	}
	if lo == 0.5 && hi == 25.0 {
		for _, kw := range cityKeywords {
			if strings.Contains(lower, kw) {
				lo, hi = 5.0, 25.0
				break
			}
		}
	}

	h := fnv.New32a()
	h.Write([]byte(lower))
	frac := float64(h.Sum32()%1000) / 1000.0
	return lo + (hi-lo)*frac
}

// Fee implements the distance bands: flat base fee up to 2km, then 100/km to
// 5km, 200/km to 10km and 300/km beyond, rounded to the nearest 100.
func (e *DeliveryEstimator) Fee(distanceKm float64) decimal.Decimal {
	base, _ := e.BaseFee.Float64()
	var fee float64
	switch {
	case distanceKm <= 2:
		fee = base
	case distanceKm <= 5:
		fee = base + (distanceKm-2)*100
	case distanceKm <= 10:
		fee = base + 300 + (distanceKm-5)*200
	default:
		fee = base + 1300 + (distanceKm-10)*300
	}

	rounded := int64(fee/100+0.5) * 100
	return decimal.NewFromInt(rounded)
}

// Estimate combines distance estimation and the fee bands.
func (e *DeliveryEstimator) Estimate(address string) (decimal.Decimal, float64) {
	km := e.EstimateDistanceKm(address)
	return e.Fee(km), km
}

package domain

// Parcel is the physical package profile sent to the carrier rate service.
type Parcel struct {
	WeightOunces float64 `json:"weight_ounces"`
	LengthIn     float64 `json:"length_in"`
	WidthIn      float64 `json:"width_in"`
	HeightIn     float64 `json:"height_in"`
}

const gramsPerOunce = 28.3495

// EstimateParcel aggregates line item weights into a single parcel using the
// fallback's dimensions. Items without weight data contribute nothing; if the
// whole cart has no weight the fallback parcel is returned unchanged so a
// quote can still be obtained.
func EstimateParcel(items []CartItem, fallback Parcel) Parcel {
	var grams int
	for _, it := range items {
		if it.WeightGrams > 0 && it.Quantity > 0 {
			grams += it.WeightGrams * it.Quantity
		}
	}
	if grams == 0 {
		return fallback
	}

	p := fallback
	p.WeightOunces = float64(grams) / gramsPerOunce
	return p
}

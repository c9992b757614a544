package domain

import (
	"sort"
	"strings"
)

// ShippingRate is one carrier quote for a shipment.
type ShippingRate struct {
	ID           string `json:"id"`
	Carrier      string `json:"carrier"`
	Service      string `json:"service"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	DeliveryDays int    `json:"delivery_days,omitempty"`
}

// FilterRates keeps only quotes whose carrier (or carrier:service pair)
// appears in the allow list. Entries are matched case-insensitively; a bare
// carrier entry admits all of that carrier's services. An empty allow list
// admits nothing.
func FilterRates(rates []ShippingRate, allowed []string) []ShippingRate {
	byCarrier := make(map[string]bool, len(allowed))
	byService := make(map[string]bool, len(allowed))
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if strings.Contains(entry, ":") {
			byService[entry] = true
		} else {
			byCarrier[entry] = true
		}
	}

	out := make([]ShippingRate, 0, len(rates))
	for _, r := range rates {
		carrier := strings.ToLower(r.Carrier)
		pair := carrier + ":" + strings.ToLower(r.Service)
		if byCarrier[carrier] || byService[pair] {
			out = append(out, r)
		}
	}
	return out
}

// SortRates orders quotes cheapest first; price ties are broken by faster
// estimated delivery, with unknown delivery estimates sorted last.
func SortRates(rates []ShippingRate) {
	sort.SliceStable(rates, func(i, j int) bool {
		if rates[i].AmountCents != rates[j].AmountCents {
			return rates[i].AmountCents < rates[j].AmountCents
		}
		return deliveryRank(rates[i].DeliveryDays) < deliveryRank(rates[j].DeliveryDays)
	})
}

func deliveryRank(days int) int {
	if days <= 0 {
		return int(^uint(0) >> 1)
	}
	return days
}

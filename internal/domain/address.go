package domain

import "strings"

// Address is a shipping destination.
type Address struct {
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Province   string `json:"province,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Normalized returns a copy with surrounding whitespace removed and the
// country and province codes upper-cased.
func (a Address) Normalized() Address {
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.LastName = strings.TrimSpace(a.LastName)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.Province = strings.ToUpper(strings.TrimSpace(a.Province))
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	a.Phone = strings.TrimSpace(a.Phone)
	return a
}

// Complete reports whether the address carries every field a carrier needs to
// quote against it. US destinations additionally require a state code. This is
// structural completeness only; no postal directory is consulted.
func (a Address) Complete() bool {
	if a.Line1 == "" || a.City == "" || a.PostalCode == "" || a.Country == "" {
		return false
	}
	if strings.EqualFold(a.Country, "US") && a.Province == "" {
		return false
	}
	return true
}

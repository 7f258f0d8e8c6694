package types

import "strings"

type ShippingStatus string

const (
	ShippingStatusPending ShippingStatus = "PENDING"
	ShippingStatusShipped ShippingStatus = "SHIPPED"
)

type ShippingAddress struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Country string `json:"country"`
}

// Normalize trims every field, collapses inner whitespace and upper-cases the country.
func (a ShippingAddress) Normalize() ShippingAddress {
	return ShippingAddress{
		Street:  collapse(a.Street),
		City:    collapse(a.City),
		State:   collapse(a.State),
		ZipCode: collapse(a.ZipCode),
		Country: strings.ToUpper(collapse(a.Country)),
	}
}

// Complete reports whether the address can be shipped to.
func (a ShippingAddress) Complete() bool {
	n := a.Normalize()
	return n.Street != "" && n.City != "" && n.Country != ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

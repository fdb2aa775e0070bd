package model

import "time"

// Status is the delivery status of a tracked package.
type Status string

const (
	StatusOrdered        Status = "ordered"
	StatusShipped        Status = "shipped"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
)

// statusPriority orders statuses so that merges never move a package
// backwards. Unknown statuses rank below ordered.
var statusPriority = map[Status]int{
	StatusOrdered:        1,
	StatusShipped:        2,
	StatusOutForDelivery: 3,
	StatusDelivered:      4,
}

// Priority returns the rank of s in the delivery progression.
// Statuses not in the progression rank zero.
func (s Status) Priority() int {
	return statusPriority[s]
}

// Package is one order's tracking state, extracted from notification
// emails and advanced by merges. String fields use "" for absent,
// timestamps use the zero time.
type Package struct {
	// OrderNumber is the canonical key, in Amazon's ddd-ddddddd-ddddddd form.
	OrderNumber string `json:"order_number"`

	// Status is the furthest delivery status seen for this order.
	Status Status `json:"status"`

	// Carrier is the delivering carrier as named in the email, if detected.
	Carrier string `json:"carrier,omitempty"`

	// TrackingNumber is the carrier tracking code, if detected.
	TrackingNumber string `json:"tracking_number,omitempty"`

	// EstimatedDelivery is the promised delivery date in yyyy-mm-dd form.
	EstimatedDelivery string `json:"estimated_delivery,omitempty"`

	// ProductName is a short product description, at most 100 characters.
	ProductName string `json:"product_name,omitempty"`

	// LastUpdated is the timestamp of the most recently merged email.
	LastUpdated time.Time `json:"last_updated"`

	// OrderDate is the timestamp of the first email seen for this order.
	OrderDate time.Time `json:"order_date"`
}

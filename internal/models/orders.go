package models

import (
	"errors"
	"fmt"
)

// OrderEvent is the "order placed" payload shared by the producer and every
// consumer. Field names are the contract between them; there is no
// versioning, and unknown fields are dropped on decode. Mistyped fields are
// coerced rather than rejected; see Text and Quantity.
type OrderEvent struct {
	Product  Text     `json:"product" msgpack:"product"`
	Quantity Quantity `json:"quantity" msgpack:"quantity"`
	Customer Text     `json:"customer,omitempty" msgpack:"customer,omitempty"`
}

var (
	ErrMissingProduct  = errors.New("product must be provided")
	ErrInvalidQuantity = errors.New("quantity must be a whole number greater than zero")
	ErrMissingCustomer = errors.New("customer must be provided")
)

// CheckStock reports whether e carries what an inventory update needs.
func (e OrderEvent) CheckStock() error {
	if e.Product == "" {
		return ErrMissingProduct
	}
	if n, ok := e.Quantity.Int(); !ok || n <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidQuantity, float64(e.Quantity))
	}
	return nil
}

// CheckNotification reports whether e carries what a notification needs.
func (e OrderEvent) CheckNotification() error {
	if e.Customer == "" {
		return ErrMissingCustomer
	}
	return nil
}

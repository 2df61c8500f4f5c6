package domain

import "time"

type ReservationCreated struct {
	ReservationID string
	TenantID      string
	VariantID     string
	Quantity      int
	ExpiresAt     time.Time
}

type ReservationConfirmed struct {
	ReservationID string
	TenantID      string
	VariantID     string
	Quantity      int
}

type ReservationReleased struct {
	ReservationID string
	TenantID      string
	VariantID     string
	Quantity      int
}

type ReservationExpired struct {
	ReservationID string
	TenantID      string
	VariantID     string
	Quantity      int
	ExpiresAt     time.Time
}

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusActive.Terminal())
	assert.True(t, StatusConfirmed.Terminal())
	assert.True(t, StatusReleased.Terminal())
	assert.True(t, StatusExpired.Terminal())
}

func TestNewReservation(t *testing.T) {
	r := NewReservation("tenant-1", "variant-1", 3, time.Minute)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "tenant-1", r.TenantID)
	assert.Equal(t, "variant-1", r.VariantID)
	assert.Equal(t, 3, r.Quantity)
	assert.Equal(t, StatusActive, r.Status)
	assert.Nil(t, r.ReleasedAt)
	assert.Equal(t, r.CreatedAt.Add(time.Minute), r.ExpiresAt)
}

func TestReservationExpiredBy(t *testing.T) {
	r := NewReservation("tenant-1", "variant-1", 1, time.Minute)

	assert.False(t, r.ExpiredBy(r.CreatedAt))
	assert.False(t, r.ExpiredBy(r.ExpiresAt))
	assert.True(t, r.ExpiredBy(r.ExpiresAt.Add(time.Second)))
}

func TestReservationAge(t *testing.T) {
	r := NewReservation("tenant-1", "variant-1", 1, time.Minute)
	assert.Equal(t, 2*time.Hour, r.Age(r.CreatedAt.Add(2*time.Hour)))
}

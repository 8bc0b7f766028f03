package reservations

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("reservation not found")

// Reservation is a stay booked under a guest name.
type Reservation struct {
	ID        string    `json:"id"`
	GuestName string    `json:"name"`
	CheckIn   time.Time `json:"check_in"`
	CheckOut  time.Time `json:"check_out"`
	Guests    int       `json:"guests"`
	Room      string    `json:"room,omitempty"`
	Status    string    `json:"status"`
}

// Lookup resolves the most recent reservation for a guest name.
// It returns ErrNotFound when nothing matches.
type Lookup interface {
	Lookup(ctx context.Context, name string) (Reservation, error)
}

// NormalizeName folds case and collapses whitespace so spoken names match
// what was typed at booking time.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"mined", StatusConfirmed},
		{"Confirmed", StatusConfirmed},
		{"SUCCESS", StatusConfirmed},
		{"failed", StatusFailed},
		{"error", StatusFailed},
		{"rejected", StatusFailed},
		{"expired", StatusCancelled},
		{"cancelled", StatusCancelled},
		{"canceled", StatusCancelled},
		{"declined", StatusCancelled},
		{"initiated", StatusPending},
		{"authorized", StatusPending},
		{"broadcast", StatusPending},
		{"pending", StatusPending},
		{"pending_confirmation", StatusPending},
		{"submitted", StatusPending},
		{"  mined  ", StatusConfirmed},
		{"", StatusPending},
		{"quantum_flux", StatusPending},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeStatus(tc.raw), "raw=%q", tc.raw)
	}
}

package credits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCredits(t *testing.T) {
	tests := []struct {
		input   string
		want    Credits
		wantErr bool
	}{
		{"150", 15000, false},
		{"150.5", 15050, false},
		{"150.25", 15025, false},
		{"0.01", 1, false},
		{"-3.5", -350, false},
		{".5", 50, false},
		{" 42 ", 4200, false},
		{"", 0, true},
		{"1.234", 0, true},
		{"abc", 0, true},
		// A sign is only valid as the very first character.
		{"--5", 0, true},
		{"-+5", 0, true},
		{"1.-5", 0, true},
		{"1.+5", 0, true},
		{"+5", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCredits(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreditsString(t *testing.T) {
	assert.Equal(t, "150.00", Credits(15000).String())
	assert.Equal(t, "150.25", Credits(15025).String())
	assert.Equal(t, "0.05", Credits(5).String())
	assert.Equal(t, "-3.50", Credits(-350).String())
}

func TestCreditsFloatRoundTrip(t *testing.T) {
	assert.Equal(t, Credits(15050), FromFloat(150.5))
	assert.Equal(t, 150.5, Credits(15050).Float())

	// Repeated cycles stay exact; this is the point of fixed-point storage.
	total := Credits(0)
	for i := 0; i < 1000; i++ {
		total += FromFloat(0.1)
	}
	assert.Equal(t, Credits(10000), total)
	assert.Equal(t, "100.00", total.String())
}

func TestBalanceAvailable(t *testing.T) {
	b := Balance{TotalCredits: 10000, ReservedCredits: 2500}
	assert.Equal(t, Credits(7500), b.Available())
}

func TestAllocationAvailable(t *testing.T) {
	a := Allocation{AllocatedCredits: 5000, UsedCredits: 1200}
	assert.Equal(t, Credits(3800), a.Available())
}

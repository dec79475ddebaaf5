// Package tier names the wallet classes custody funds move between.
package tier

// Type identifies a wallet class. The string values are part of the signal wire format.
type Type string

const (
	Gas     Type = "gas"
	Hot     Type = "hot"
	Warm    Type = "warm"
	Cold    Type = "cold"
	Deposit Type = "deposit"
)

// System lists the configured tiers that hold stablecoin liquidity, in spending order.
var System = []Type{Hot, Warm, Cold}

func (t Type) Valid() bool {
	switch t {
	case Gas, Hot, Warm, Cold, Deposit:
		return true
	}
	return false
}

func (t Type) String() string {
	return string(t)
}

package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const etherDecimals = 18

// ToBaseUnits converts a whole-unit amount into base units, truncating excess precision.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).BigInt()
}

func FromBaseUnits(value *big.Int, decimals int32) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}

	return decimal.NewFromBigInt(value, -decimals)
}

func WeiToEther(wei *big.Int) decimal.Decimal {
	return FromBaseUnits(wei, etherDecimals)
}

func EtherToWei(ether decimal.Decimal) *big.Int {
	return ToBaseUnits(ether, etherDecimals)
}

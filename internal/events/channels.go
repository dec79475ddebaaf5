package events

// Channel names are part of the wire contract with other deployments and are kept verbatim,
// including the "replinish" spelling.
type Channel string

const (
	ChannelGasLow                    Channel = "gas:low"
	ChannelGasRefill                 Channel = "gas:refill"
	ChannelHotWalletInsufficient     Channel = "hot_wallet:insufficient"
	ChannelWarmWalletSweepable       Channel = "warm_wallet:sweepable"
	ChannelWarmWalletInsufficient    Channel = "warm_wallet:insufficient"
	ChannelDepositWalletSweepable    Channel = "deposit_wallet:sweepable"
	ChannelDepositWalletInsufficient Channel = "deposit_wallet:insufficient"
	ChannelDepositWalletSwept        Channel = "sweep:deposit_wallet"
	ChannelWarmWalletSwept           Channel = "sweep:warm_wallet"
	ChannelHotWalletReplenished      Channel = "replinish:hot_wallet"
	ChannelWarmWalletReplenished     Channel = "replinish:warm_wallet"
	ChannelColdWalletLow             Channel = "cold_wallet:low"
	ChannelWithdrawalSucceeded       Channel = "withdrawal:success"
	ChannelWithdrawalFailed          Channel = "withdrawal:failed"
	ChannelLedgerDrift               Channel = "ledger:drift"
)

func (c Channel) String() string {
	return string(c)
}

var registry = map[Channel]func() Signal{
	ChannelGasLow:                    func() Signal { return &GasLow{} },
	ChannelGasRefill:                 func() Signal { return &GasRefill{} },
	ChannelHotWalletInsufficient:     func() Signal { return &HotWalletInsufficient{} },
	ChannelWarmWalletSweepable:       func() Signal { return &WarmWalletSweepable{} },
	ChannelWarmWalletInsufficient:    func() Signal { return &WarmWalletInsufficient{} },
	ChannelDepositWalletSweepable:    func() Signal { return &DepositWalletSweepable{} },
	ChannelDepositWalletInsufficient: func() Signal { return &DepositWalletInsufficient{} },
	ChannelDepositWalletSwept:        func() Signal { return &DepositWalletSwept{} },
	ChannelWarmWalletSwept:           func() Signal { return &WarmWalletSwept{} },
	ChannelHotWalletReplenished:      func() Signal { return &HotWalletReplenished{} },
	ChannelWarmWalletReplenished:     func() Signal { return &WarmWalletReplenished{} },
	ChannelColdWalletLow:             func() Signal { return &ColdWalletLow{} },
	ChannelWithdrawalSucceeded:       func() Signal { return &WithdrawalSucceeded{} },
	ChannelWithdrawalFailed:          func() Signal { return &WithdrawalFailed{} },
	ChannelLedgerDrift:               func() Signal { return &LedgerDrift{} },
}

// Channels lists every known channel.
func Channels() []Channel {
	res := make([]Channel, 0, len(registry))
	for c := range registry {
		res = append(res, c)
	}

	return res
}

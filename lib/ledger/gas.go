package ledger

// GasBufferPercent is added on top of every gas estimate before a write is
// sent.
const GasBufferPercent = 20

// BufferedGas returns estimate plus GasBufferPercent, rounded down.
func BufferedGas(estimate uint64) uint64 {
	return estimate * (100 + GasBufferPercent) / 100
}

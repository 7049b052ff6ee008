package ledger

import (
	"fmt"
	"math/big"
	"strings"
)

// weiDecimals is the number of decimal places in one ether.
const weiDecimals = 18

// ParseEther converts a decimal ether amount such as "0.01" to wei.
func ParseEther(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrBadAmount)
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" {
		whole = "0"
	}

	if len(frac) > weiDecimals {
		return nil, fmt.Errorf("%w: %q has more than %d decimal places", ErrBadAmount, amount, weiDecimals)
	}

	digits := whole + frac + strings.Repeat("0", weiDecimals-len(frac))
	if strings.ContainsAny(digits, "+-") {
		return nil, fmt.Errorf("%w: %q must be a plain non-negative decimal", ErrBadAmount, amount)
	}

	result, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a decimal number", ErrBadAmount, amount)
	}

	return result, nil
}

// Package all registers every ledger backend.
package all

import (
	_ "github.com/fancybear42/secure-loot-pass/lib/ledger/ethereum"
	_ "github.com/fancybear42/secure-loot-pass/lib/ledger/memory"
)

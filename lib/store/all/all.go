// Package all is a meta-package that imports all store implementations.
//
// This is a HACK to make tests work consistently.
package all

import (
	_ "github.com/fancybear42/secure-loot-pass/lib/store/bbolt"
	_ "github.com/fancybear42/secure-loot-pass/lib/store/memory"
	_ "github.com/fancybear42/secure-loot-pass/lib/store/valkey"
)

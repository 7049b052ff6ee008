// Package lootpass contains the version number and the constants shared by the
// secure loot pass progress service.
package lootpass

// Version is the current version of the service.
//
// This variable is set at build time using the -X linker flag. If not set,
// it will default to "devel".
var Version = "devel"

// BasePrefix is a global prefix for all routes, set from the command line.
var BasePrefix = ""

// APIPrefix is the directory the JSON API is served under.
const APIPrefix = "/api/"

// SepoliaChainID is the only network the ledger adapter talks to unless told
// otherwise.
const SepoliaChainID = 11155111

// Values reported by the ledger adapter when a player stat can't be read.
const (
	DefaultLevel              = 1
	DefaultExperience         = 0
	DefaultRequiredExperience = 1000
)

package data

import "embed"

var (
	//go:embed season.yaml
	Season embed.FS
)

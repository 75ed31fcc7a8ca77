// Package locales embeds the bot's translation catalogs.
package locales

import "embed"

//go:embed *.yaml
var FS embed.FS

// Package prompts holds the embedded prompt files.
package prompts

import "embed"

//go:embed *.md
var PromptsFS embed.FS

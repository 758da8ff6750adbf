package rule

import (
	"embed"
	"io/fs"
)

// builtinRulesFS embeds the built-in rules directory together with the JSON
// test cases under rules/tests.
//
//go:embed rules/*.rules rules/tests/*.json
var builtinRulesFS embed.FS

// BuiltinFS exposes the embedded rules so they can be tested in place.
func BuiltinFS() fs.FS {
	return builtinRulesFS
}

//go:build wasm

package main

import (
	"syscall/js"
)

func main() {
	// Export functions to JavaScript
	js.Global().Set("TagcheckNewScanner", js.FuncOf(newScanner))
	js.Global().Set("TagcheckScan", js.FuncOf(scan))
	js.Global().Set("TagcheckScanBatch", js.FuncOf(scanBatch))
	js.Global().Set("TagcheckCloseScanner", js.FuncOf(closeScanner))
	js.Global().Set("TagcheckGetBuiltinRules", js.FuncOf(getBuiltinRules))

	// Keep WASM running
	<-make(chan struct{})
}

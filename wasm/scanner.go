//go:build wasm

package main

import (
	"context"
	"encoding/json"
	"sync"
	"syscall/js"

	"github.com/tagcheck/tagcheck"
	"github.com/tagcheck/tagcheck/pkg/rule"
	"github.com/tagcheck/tagcheck/pkg/scanner"
	"github.com/tagcheck/tagcheck/pkg/types"
)

var (
	scanners   = make(map[int]*tagcheck.Scanner)
	scannersMu sync.RWMutex
	nextID     int
)

// newScanner compiles a rule set. The argument is rule source text, or
// "builtin" (or nothing) for the embedded rules.
// JS: TagcheckNewScanner(rulesText) -> {handle} or {error}
func newScanner(this js.Value, args []js.Value) interface{} {
	var opts []tagcheck.Option
	if len(args) > 0 && args[0].Type() == js.TypeString && args[0].String() != "builtin" {
		rules, err := rule.Parse([]byte(args[0].String()), "inline.rules")
		if err != nil {
			return map[string]interface{}{"error": "failed to parse rules: " + err.Error()}
		}
		opts = append(opts, tagcheck.WithRules(rules))
	}

	s, err := tagcheck.NewScanner(opts...)
	if err != nil {
		return map[string]interface{}{"error": "failed to create scanner: " + err.Error()}
	}

	scannersMu.Lock()
	id := nextID
	nextID++
	scanners[id] = s
	scannersMu.Unlock()

	return map[string]interface{}{"handle": id}
}

func lookup(handle int) (*tagcheck.Scanner, bool) {
	scannersMu.RLock()
	defer scannersMu.RUnlock()
	s, ok := scanners[handle]
	return s, ok
}

// scan scans one content string. Facts are an optional JSON object mapping
// fields to value lists.
// JS: TagcheckScan(handle, content, name, factsJSON) -> report JSON or {error}
func scan(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return map[string]interface{}{"error": "handle and content arguments required"}
	}

	s, ok := lookup(args[0].Int())
	if !ok {
		return map[string]interface{}{"error": "invalid scanner handle"}
	}

	item := scanner.ContentItem{Content: args[1].String()}
	if len(args) > 2 {
		item.Name = args[2].String()
	}
	if len(args) > 3 && args[3].String() != "" {
		if err := json.Unmarshal([]byte(args[3].String()), &item.Facts); err != nil {
			return map[string]interface{}{"error": "failed to parse facts JSON: " + err.Error()}
		}
	}

	report, err := scanItem(s, item)
	if err != nil {
		return map[string]interface{}{"error": "scan failed: " + err.Error()}
	}
	return marshal(report)
}

// scanBatch scans several content items.
// JS: TagcheckScanBatch(handle, itemsJSON) -> reports JSON or {error}
func scanBatch(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return map[string]interface{}{"error": "handle and itemsJSON arguments required"}
	}

	s, ok := lookup(args[0].Int())
	if !ok {
		return map[string]interface{}{"error": "invalid scanner handle"}
	}

	var items []scanner.ContentItem
	if err := json.Unmarshal([]byte(args[1].String()), &items); err != nil {
		return map[string]interface{}{"error": "failed to parse items JSON: " + err.Error()}
	}

	reports := make([]*types.Report, 0, len(items))
	for _, item := range items {
		report, err := scanItem(s, item)
		if err != nil {
			return map[string]interface{}{"error": "batch scan failed: " + err.Error()}
		}
		reports = append(reports, report)
	}
	return marshal(reports)
}

func scanItem(s *tagcheck.Scanner, item scanner.ContentItem) (*types.Report, error) {
	a, err := item.Artifact()
	if err != nil {
		return nil, err
	}
	return s.ScanArtifact(context.Background(), a)
}

// closeScanner releases a scanner.
// JS: TagcheckCloseScanner(handle)
func closeScanner(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return map[string]interface{}{"error": "handle argument required"}
	}

	handle := args[0].Int()

	scannersMu.Lock()
	s, ok := scanners[handle]
	if ok {
		delete(scanners, handle)
	}
	scannersMu.Unlock()

	if !ok {
		return map[string]interface{}{"error": "invalid scanner handle"}
	}

	s.Close()
	return nil
}

// getBuiltinRules returns the built-in rules as JSON.
// JS: TagcheckGetBuiltinRules() -> rules JSON
func getBuiltinRules(this js.Value, args []js.Value) interface{} {
	rules, err := tagcheck.LoadBuiltinRules()
	if err != nil {
		return map[string]interface{}{"error": "failed to load builtin rules: " + err.Error()}
	}
	return marshal(rules)
}

func marshal(v any) interface{} {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{"error": "failed to marshal results: " + err.Error()}
	}
	return string(jsonBytes)
}

//go:build wasm

package main

import (
	"encoding/json"
	"strings"
	"syscall/js"
	"testing"

	"github.com/tagcheck/tagcheck/pkg/types"
)

func handleOf(t *testing.T, result interface{}) int {
	t.Helper()
	m, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected map result, got %T", result)
	}
	if errMsg, hasError := m["error"]; hasError {
		t.Fatalf("Failed to create scanner: %v", errMsg)
	}
	return m["handle"].(int)
}

func TestScannerCreation(t *testing.T) {
	handle := handleOf(t, newScanner(js.Value{}, []js.Value{js.ValueOf("builtin")}))
	if closeScanner(js.Value{}, []js.Value{js.ValueOf(handle)}) != nil {
		t.Fatal("Expected clean close")
	}
	if closeScanner(js.Value{}, []js.Value{js.ValueOf(handle)}) == nil {
		t.Fatal("Expected error closing a released handle")
	}
}

func TestScanWithCustomRules(t *testing.T) {
	src := `rule greeting { strings: $hi = "hello" condition: $hi and file_name endswith ".txt" }`
	handle := handleOf(t, newScanner(js.Value{}, []js.Value{js.ValueOf(src)}))
	defer closeScanner(js.Value{}, []js.Value{js.ValueOf(handle)})

	out, ok := scan(js.Value{}, []js.Value{js.ValueOf(handle), js.ValueOf("hello world"), js.ValueOf("a.txt")}).(string)
	if !ok {
		t.Fatal("Expected JSON string result")
	}
	var report types.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if ids := report.RuleIDs(); len(ids) != 1 || ids[0] != "greeting" {
		t.Fatalf("Expected greeting to match, got %v", ids)
	}
}

func TestScanBatch(t *testing.T) {
	handle := handleOf(t, newScanner(js.Value{}, nil))
	defer closeScanner(js.Value{}, []js.Value{js.ValueOf(handle)})

	banner := strings.Repeat("░", 60)
	items, _ := json.Marshal([]map[string]string{
		{"name": "a.bin", "content": banner},
		{"name": "b.txt", "content": "nothing here"},
	})
	out, ok := scanBatch(js.Value{}, []js.Value{js.ValueOf(handle), js.ValueOf(string(items))}).(string)
	if !ok {
		t.Fatal("Expected JSON string result")
	}
	var reports []types.Report
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 {
		t.Fatalf("Expected 2 reports, got %d", len(reports))
	}
}

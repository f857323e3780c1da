package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/biblemarker/cloudsync/internal/ui"
)

// outputFormat returns the --format value, lower-cased.
func outputFormat() string {
	f, _ := rootCmd.PersistentFlags().GetString("format")
	return strings.ToLower(f)
}

// emit writes v as JSON or YAML when requested and reports whether it did.
// Text rendering is left to the caller.
func emit(v any) bool {
	switch outputFormat() {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fatalf("failed to encode output: %v", err)
		}
		return true
	case "yaml", "yml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			fatalf("failed to encode output: %v", err)
		}
		_ = enc.Close()
		return true
	default:
		return false
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("Error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}

// fail prints err and exits. Structured formats get an error object on stdout
// so scripted callers always have something to parse.
func fail(err error) {
	if emit(map[string]string{"error": err.Error()}) {
		os.Exit(1)
	}
	fatalf("%v", err)
}

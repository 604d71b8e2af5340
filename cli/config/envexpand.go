// Package config handles arfor.yaml loading.
package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*(?::-[^}]*)?\}`)

// ExpandEnv replaces ${VAR} with the variable's value and ${VAR:-default}
// with the value, or default when the variable is unset or empty.
//
// Unset variables without defaults expand to the empty string. A missing
// credential then fails where it is used, not here.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name, fallback, _ := strings.Cut(match[2:len(match)-1], ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

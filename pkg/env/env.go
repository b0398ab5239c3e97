// Package env reads process settings needed before config.Load runs.
package env

import (
	"os"
	"strings"
)

const prefix = "HERFA_"

// Get returns HERFA_<key>, then the bare key, then fallback.
func Get(key, fallback string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return fallback
}

// Bool reports whether HERFA_<key> (or the bare key) holds a truthy value.
func Bool(key string) bool {
	val, _ := lookup(key)
	switch strings.ToLower(val) {
	case "1", "t", "true", "yes", "on":
		return true
	}
	return false
}

func lookup(key string) (string, bool) {
	for _, name := range []string{prefix + key, key} {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val, true
		}
	}
	return "", false
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key hashes a query name and its serialized inputs into a fixed length cache key
func Key(name string, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(name))
	for _, p := range parts {
		// length prefix keeps ("ab","c") and ("a","bc") apart
		fmt.Fprintf(h, "|%d|", len(p))
		h.Write(p)
	}
	return name + ":" + hex.EncodeToString(h.Sum(nil))
}

// KeyFor serializes params with encoding/json and hashes them under name
func KeyFor(name string, params ...interface{}) (string, error) {
	parts := make([][]byte, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("failed to serialize cache key part: %w", err)
		}
		parts = append(parts, b)
	}
	return Key(name, parts...), nil
}

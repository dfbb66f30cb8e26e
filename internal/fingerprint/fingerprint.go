// Package fingerprint derives the dedup key for a captured request.
package fingerprint

import (
	"crypto/sha1" //nolint:gosec // dedup key, not a security boundary
	"encoding/hex"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Compute returns the hex sha1 of method + path + canonical JSON of body.
// Map keys are encoded in sorted order, so logically equal bodies hash equally.
func Compute(method, path string, body map[string]any) (string, error) {
	canonical, err := Canonical(body)
	if err != nil {
		return "", err
	}

	h := sha1.New() //nolint:gosec
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte(path))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Canonical encodes body with sorted keys and without HTML escaping.
// A nil or empty body encodes as "[]", matching an empty input parameter set.
func Canonical(body map[string]any) ([]byte, error) {
	if len(body) == 0 {
		return []byte("[]"), nil
	}
	b, err := json.MarshalWithOption(body, json.DisableHTMLEscape())
	if err != nil {
		return nil, fmt.Errorf("canonical body: %w", err)
	}
	return b, nil
}

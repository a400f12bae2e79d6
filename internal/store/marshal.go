package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/pmc/internal/ir"
)

// marshalSettings converts build settings to canonical JSON TEXT.
func marshalSettings(settings ir.Object) (string, error) {
	if settings == nil {
		settings = ir.Object{}
	}
	data, err := ir.MarshalCanonical(settings)
	if err != nil {
		return "", fmt.Errorf("marshal settings: %w", err)
	}
	return string(data), nil
}

// marshalCallSites converts call sites to JSON TEXT.
// HTML escaping is disabled so generated Java such as "a < b" is stored
// verbatim.
func marshalCallSites(sites []CallSite) (string, error) {
	if sites == nil {
		sites = []CallSite{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(sites); err != nil {
		return "", fmt.Errorf("marshal call sites: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalCallSites(data string) ([]CallSite, error) {
	sites := []CallSite{}
	if data == "" || data == "[]" {
		return sites, nil
	}
	if err := json.Unmarshal([]byte(data), &sites); err != nil {
		return nil, fmt.Errorf("unmarshal call sites: %w", err)
	}
	return sites, nil
}

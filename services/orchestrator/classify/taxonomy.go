// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classify

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

//go:embed intents.json
var embeddedTaxonomy []byte

// Taxonomy is the static domain -> intents mapping. Loaded once at startup
// and treated as immutable for the process lifetime.
type Taxonomy struct {
	intents map[string][]string
	domains []string
}

// LoadTaxonomy reads the taxonomy from MAYA_TAXONOMY_PATH if set, otherwise
// falls back to the embedded default.
func LoadTaxonomy() (*Taxonomy, error) {
	raw := embeddedTaxonomy
	if path := os.Getenv("MAYA_TAXONOMY_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read taxonomy file %s: %w", path, err)
		}
		slog.Info("Loaded intent taxonomy from file", "path", path)
		raw = data
	}
	return parseTaxonomy(raw)
}

func parseTaxonomy(raw []byte) (*Taxonomy, error) {
	intents := make(map[string][]string)
	if err := json.Unmarshal(raw, &intents); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}
	if len(intents) == 0 {
		return nil, fmt.Errorf("taxonomy defines no domains")
	}
	domains := make([]string, 0, len(intents))
	for domain, list := range intents {
		if len(list) == 0 {
			return nil, fmt.Errorf("domain %q defines no intents", domain)
		}
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	return &Taxonomy{intents: intents, domains: domains}, nil
}

// Domains returns the known domain names in sorted order.
func (t *Taxonomy) Domains() []string {
	return t.domains
}

// DomainList returns the domains as a comma-separated string for prompt
// interpolation.
func (t *Taxonomy) DomainList() string {
	return strings.Join(t.domains, ", ")
}

// IntentsFor returns the intent list for a domain.
func (t *Taxonomy) IntentsFor(domain string) ([]string, bool) {
	list, ok := t.intents[domain]
	return list, ok
}

// HasDomain reports whether domain is a known domain label.
func (t *Taxonomy) HasDomain(domain string) bool {
	_, ok := t.intents[domain]
	return ok
}

// HasIntent reports whether intent belongs to domain's configured list.
func (t *Taxonomy) HasIntent(domain, intent string) bool {
	for _, candidate := range t.intents[domain] {
		if candidate == intent {
			return true
		}
	}
	return false
}

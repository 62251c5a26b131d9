// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package statestore persists the one piece of state the core design
// allows across restarts: the last-known Wi-Fi country code. It is
// grounded on flywall's small on-disk YAML state files, using
// gopkg.in/yaml.v3 the same way the rest of the ambient stack does.
package statestore

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"grimm.is/qns/internal/qnserrors"
)

// CountryCode persists the last known Wi-Fi country code.
type CountryCode struct {
	mu   sync.Mutex
	path string
}

type countryCodeFile struct {
	LastKnownCountryCode string `yaml:"last_known_country_code"`
}

// NewCountryCode returns a store backed by path. The file is created
// lazily on first Set.
func NewCountryCode(path string) *CountryCode {
	return &CountryCode{path: path}
}

// Get returns the persisted country code, or "" if none has been saved.
func (c *CountryCode) Get() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", qnserrors.Wrap(err, qnserrors.KindInternal, "statestore: read country code")
	}
	var f countryCodeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return "", qnserrors.Wrap(err, qnserrors.KindInternal, "statestore: decode country code")
	}
	return f.LastKnownCountryCode, nil
}

// Set persists a new country code, overwriting any prior value.
func (c *CountryCode) Set(cc string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := yaml.Marshal(countryCodeFile{LastKnownCountryCode: cc})
	if err != nil {
		return qnserrors.Wrap(err, qnserrors.KindInternal, "statestore: encode country code")
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return qnserrors.Wrap(err, qnserrors.KindInternal, "statestore: write country code")
	}
	return nil
}

// Package digest builds and sends periodic notification digest emails.
package digest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wildcard matches every notification type.
const Wildcard = "*"

// GroupInfo describes one section of a digest.
type GroupInfo struct {
	DisplayName string `json:"display_name"`
	GroupOrder  int    `json:"group_order"`
}

// GroupConfig maps notification types to digest groups. TypeMapping keys are
// exact type names, "prefix.*" patterns or "*".
type GroupConfig struct {
	TypeMapping map[string]string    `json:"type_mapping"`
	Groups      map[string]GroupInfo `json:"groups"`
}

// ParseGroupConfig decodes a JSON group configuration. Empty input yields an
// empty configuration.
func ParseGroupConfig(data string) (GroupConfig, error) {
	var cfg GroupConfig
	if strings.TrimSpace(data) == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return GroupConfig{}, fmt.Errorf("decode group config: %w", err)
	}
	return cfg, nil
}

// Lookup returns the group of typeName. It tries the exact name, then each
// shorter "prefix.*" pattern, then "*". A candidate only counts if its group
// is configured.
func (c GroupConfig) Lookup(typeName string) (string, bool) {
	if group, ok := c.match(typeName); ok {
		return group, true
	}

	search := typeName
	for {
		idx := strings.LastIndex(search, ".")
		if idx < 0 {
			break
		}
		search = search[:idx]
		if group, ok := c.match(search + ".*"); ok {
			return group, true
		}
	}

	return c.match(Wildcard)
}

func (c GroupConfig) match(key string) (string, bool) {
	group, ok := c.TypeMapping[key]
	if !ok {
		return "", false
	}
	if _, ok := c.Groups[group]; !ok {
		return "", false
	}
	return group, true
}

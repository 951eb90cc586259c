package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PluginConfig is the host framework's native per-device config block
// (spec.md §6): "the only recognised config keys are name, comment,
// type, hint; anything else is an error".
type PluginConfig struct {
	Name    string
	Comment string
	Type    string
	Hint    string
}

// ParsePluginConfig reads a config block line by line, keyword first,
// rather than a generic structured format -- this is the host
// framework's own config syntax, not ours to redesign.
func ParsePluginConfig(r io.Reader) (PluginConfig, error) {
	var pc PluginConfig
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		key := strings.ToLower(fields[0])
		var val string
		if len(fields) > 1 {
			val = strings.TrimSpace(fields[1])
		}
		switch key {
		case "name":
			pc.Name = val
		case "comment":
			pc.Comment = val
		case "type":
			pc.Type = val
		case "hint":
			pc.Hint = val
		default:
			return pc, fmt.Errorf("loadConfig: unrecognised key %q", fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return pc, err
	}
	return pc, nil
}

// Package config holds the two configuration layers the bridge needs:
// build-time filesystem layout constants (spec.md §6), overridable by an
// optional YAML file, plus the per-device plugin config block (§6's
// name/comment/type/hint keys) in plugincfg.go.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Paths is the build-time-configurable runtime filesystem layout from
// spec.md §6. The three base paths are build-time configurable constants
// there; we keep the same defaults but allow an operator override file.
type Paths struct {
	ShmRoot    string `yaml:"shm_root"`
	RuntimeDir string `yaml:"runtime_dir"`
	LockDir    string `yaml:"lock_dir"`
	FDSignal   string `yaml:"fd_signal_name"`
	Group      string `yaml:"group"`
}

// Default mirrors spec.md §6's defaults: a well-known runtime directory,
// a lock directory, and the "ias_audio" group.
func Default() Paths {
	return Paths{
		ShmRoot:    "/dev/shm",
		RuntimeDir: "/var/run/smartxbar",
		LockDir:    "/var/lock/smartxbar",
		FDSignal:   "smartxbar.fdsig",
		Group:      "ias_audio",
	}
}

// Load reads an optional YAML override file on top of Default(). A
// missing file is not an error, since this path is explicit and
// operator-supplied rather than discovered.
func Load(path string) (Paths, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, err
	}
	return p, nil
}

// SanitizeName replaces filesystem-illegal characters in a connection or
// FIFO name, per spec.md §4.2 ("Name characters illegal on the
// filesystem (':' and ',') are replaced with '_'").
func SanitizeName(name string) string {
	out := []byte(name)
	for i, c := range out {
		if c == ':' || c == ',' {
			out[i] = '_'
		}
	}
	return string(out)
}

package config

import (
	"fmt"
	"strings"
)

// Format renders cfg as key=value lines followed by a sources section.
func Format(cfg Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "name=%s\n", cfg.Name)
	fmt.Fprintf(&b, "size=%d\n", cfg.Size)
	fmt.Fprintf(&b, "interval=%d\n", int(cfg.Interval.Seconds()))
	fmt.Fprintf(&b, "policy=%s\n", cfg.Policy)
	fmt.Fprintf(&b, "dir=%s\n", cfg.Dir)
	fmt.Fprintf(&b, "effective_cwd=%s\n", cfg.EffectiveCwd)

	b.WriteString("\n# sources\n")

	if cfg.Sources.File == "" {
		b.WriteString("config_file=(none)\n")
	} else {
		fmt.Fprintf(&b, "config_file=%s\n", cfg.Sources.File)
	}

	for _, key := range []string{"name", "size", "interval", "policy", "dir"} {
		fmt.Fprintf(&b, "%s: %s\n", key, cfg.Sources.Fields[key])
	}

	return strings.TrimSuffix(b.String(), "\n")
}

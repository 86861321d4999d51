package rules

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load returns the default pack overlaid with the TOML file at path. Tables
// present in the file replace the corresponding defaults; threshold and
// disclaimer maps are merged by key. An empty path yields the defaults.
func Load(path string) (*Pack, error) {
	pack := Default()
	if path == "" {
		return pack, pack.Validate()
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("rule pack %s: %w", path, err)
	}

	var file Pack
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalidTOML, path, strings.Join(keys, ", "))
	}

	pack.overlay(&file, md)

	if err := pack.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pack, nil
}

func (p *Pack) overlay(file *Pack, md toml.MetaData) {
	if md.IsDefined("safety", "rules") {
		p.Safety.Rules = file.Safety.Rules
	}
	for cat, th := range file.Safety.Thresholds {
		p.Safety.Thresholds[cat] = th
	}
	if md.IsDefined("terminology") {
		p.Terminology = file.Terminology
	}
	if md.IsDefined("compliance", "prohibited") {
		p.Compliance.Prohibited = file.Compliance.Prohibited
	}
	for domain, d := range file.Compliance.Disclaimers {
		p.Compliance.Disclaimers[domain] = d
	}
	if md.IsDefined("claims") {
		p.Claims = file.Claims
	}
	if md.IsDefined("contradictions") {
		p.Contradictions = file.Contradictions
	}
	if md.IsDefined("placeholders") {
		p.Placeholders = file.Placeholders
	}
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// registryDocument is the registry's own configuration document
// (spec.md §6.4): just enough of §6.2's shape to carry a listen URI and
// log sinks, since the registry has no controllers of its own.
type registryDocument struct {
	Middleware struct {
		RegistryURI         string `yaml:"registryUri"`
		EnableDomainSockets bool   `yaml:"enableDomainSockets"`
	} `yaml:"middleware"`
	Logging struct {
		Sinks []struct {
			Type  string `yaml:"type"`
			Level string `yaml:"level"`
		} `yaml:"sinks"`
	} `yaml:"logging"`
}

func loadRegistryConfig(path string) (*registryDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc registryDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &doc, nil
}

// writeGeneratedConfig atomically writes a registryDocument whose
// middleware.registryUri is the effective listen URI (spec.md §6.4):
// write to "<path>.<random>.tmp", then rename over path.
func writeGeneratedConfig(path, effectiveListenURI string) error {
	doc := registryDocument{}
	doc.Middleware.RegistryURI = effectiveListenURI

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal generated configuration: %w", err)
	}

	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf("%s.%d.tmp", filepath.Base(path), rand.Uint64()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

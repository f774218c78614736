// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config loads request defaults from YAML files.
//
// A configuration file holds a defaults layer, named profiles layered
// on top of it, and the location of a persistent response cache:
//
//	defaults:
//	  prefixUrl: https://api.example.com/v1
//	  headers:
//	    Accept: [application/json]
//	  retry:
//	    limit: 3
//	  timeout:
//	    request: 10s
//	profiles:
//	  slow:
//	    timeout:
//	      request: 1m
//	cache:
//	  path: /var/cache/reqflow.db
//	  namespace: api
//
// The keys of a layer are the yaml names of the request.Draft fields.
// Hooks, stores and user context cannot be configured from a file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/gogama/reqflow/request"
	"gopkg.in/yaml.v3"
)

// A File is the content of a configuration file.
type File struct {
	Defaults request.Draft            `yaml:"defaults,omitempty"`
	Profiles map[string]request.Draft `yaml:"profiles,omitempty"`
	// CAFile names a PEM file of extra certificate authorities. A
	// relative path is resolved against the directory of the file.
	CAFile string `yaml:"caFile,omitempty"`
	Cache  Cache  `yaml:"cache,omitempty"`
}

// Cache locates the persistent response cache.
type Cache struct {
	Path      string `yaml:"path,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reqflow/config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("reqflow/config: %s: %w", path, err)
	}
	if f.CAFile != "" {
		ca := f.CAFile
		if !filepath.IsAbs(ca) {
			ca = filepath.Join(filepath.Dir(path), ca)
		}
		if f.Defaults.CA, err = os.ReadFile(ca); err != nil {
			return nil, fmt.Errorf("reqflow/config: %w", err)
		}
	}
	return f, nil
}

// Parse decodes and validates a configuration document. Unknown keys
// are an error. An empty document yields an empty File.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that the defaults, and each profile merged onto them,
// normalize without error. A missing URL is allowed since the URL is
// usually given per request.
func (f *File) Validate() error {
	if err := check(&f.Defaults); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for _, name := range f.ProfileNames() {
		p := f.Profiles[name]
		if name == "" {
			return errors.New("profile with empty name")
		}
		if err := check(&f.Defaults, &p); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
	}
	return nil
}

func check(layers ...*request.Draft) error {
	_, err := request.Normalize(nil, layers...)
	var ve *request.ValidationError
	if errors.As(err, &ve) && ve.Kind == request.MissingArgument {
		return nil
	}
	return err
}

// ProfileNames returns the names of the profiles in sorted order.
func (f *File) ProfileNames() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Layers returns the configuration layers for profile: the defaults,
// followed by the profile if one is named. The layers are copies and
// may be modified.
func (f *File) Layers(profile string) ([]*request.Draft, error) {
	layers := []*request.Draft{f.Defaults.Clone()}
	if f.Cache.Namespace != "" {
		layers[0].CacheNamespace = f.Cache.Namespace
	}
	if profile == "" {
		return layers, nil
	}
	p, ok := f.Profiles[profile]
	if !ok {
		return nil, fmt.Errorf("reqflow/config: unknown profile %q", profile)
	}
	return append(layers, p.Clone()), nil
}

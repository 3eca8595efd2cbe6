// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package deployment

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/toeirei/clustertrust/internal/model"
	"gopkg.in/yaml.v3"
)

// SchemaVersion is the only descriptor version understood.
const SchemaVersion = 1

type applicationsDoc struct {
	Version      *int                      `yaml:"version"`
	Applications map[string]applicationDoc `yaml:"applications"`
}

type applicationDoc struct {
	Image string `yaml:"image"`
}

type deploymentDoc struct {
	Version *int                `yaml:"version"`
	Nodes   map[string][]string `yaml:"nodes"`
}

// Load reads the application catalog and the deployment descriptor from fsys
// and builds a validated Model.
func Load(fsys afero.Fs, applicationsPath, deploymentPath string) (Model, error) {
	apps, err := afero.ReadFile(fsys, applicationsPath)
	if err != nil {
		return Model{}, &model.ConfigError{Field: "applications", Err: fmt.Errorf("read %s: %w", applicationsPath, err)}
	}
	deploy, err := afero.ReadFile(fsys, deploymentPath)
	if err != nil {
		return Model{}, &model.ConfigError{Field: "deployment", Err: fmt.Errorf("read %s: %w", deploymentPath, err)}
	}
	return FromConfiguration(apps, deploy)
}

// FromConfiguration parses both descriptors. Both are YAML documents (JSON is
// accepted too) that must declare version 1.
func FromConfiguration(applications, deployment []byte) (Model, error) {
	var ad applicationsDoc
	if err := yaml.Unmarshal(applications, &ad); err != nil {
		return Model{}, &model.ConfigError{Field: "applications", Err: err}
	}
	if err := checkVersion(ad.Version); err != nil {
		return Model{}, &model.ConfigError{Field: "applications.version", Err: err}
	}
	if ad.Applications == nil {
		return Model{}, &model.ConfigError{Field: "applications", Err: errors.New("missing applications key")}
	}

	var dd deploymentDoc
	if err := yaml.Unmarshal(deployment, &dd); err != nil {
		return Model{}, &model.ConfigError{Field: "deployment", Err: err}
	}
	if err := checkVersion(dd.Version); err != nil {
		return Model{}, &model.ConfigError{Field: "deployment.version", Err: err}
	}
	if dd.Nodes == nil {
		return Model{}, &model.ConfigError{Field: "nodes", Err: errors.New("missing nodes key")}
	}

	m := Model{
		Nodes:        dd.Nodes,
		Applications: make(map[string]Application, len(ad.Applications)),
	}
	for name, app := range ad.Applications {
		m.Applications[name] = Application{Name: name, Image: app.Image}
	}
	if err := m.Validate(); err != nil {
		return Model{}, err
	}
	return m, nil
}

func checkVersion(v *int) error {
	if v == nil {
		return errors.New("missing version")
	}
	if *v != SchemaVersion {
		return fmt.Errorf("unsupported version %d", *v)
	}
	return nil
}

package models

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/climate-health/chap/pkg/hermes"
)

// DescriptorKind is the required value of a descriptor's kind field.
const DescriptorKind = "ChapModel"

// ModelType tags the adapter variant a descriptor selects.
type ModelType string

const (
	ModelTypeExternal ModelType = "external"
	ModelTypeBuiltin  ModelType = "builtin"
)

// Descriptor describes a model, loaded from a YAML file.
type Descriptor struct {
	// APIVersion for future compatibility.
	APIVersion string `yaml:"apiVersion"`

	// Kind should be "ChapModel".
	Kind string `yaml:"kind"`

	Metadata DescriptorMetadata `yaml:"metadata"`
	Spec     DescriptorSpec     `yaml:"spec"`

	// dir is the directory the descriptor was loaded from.
	dir string
}

// DescriptorMetadata contains model identity fields.
type DescriptorMetadata struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Author      string `yaml:"author"`
	Description string `yaml:"description"`
}

// DescriptorSpec contains the model invocation settings.
type DescriptorSpec struct {
	// Type is "external" or "builtin".
	Type ModelType `yaml:"type"`

	// Builtin names a registered estimator when Type is builtin.
	Builtin string `yaml:"builtin"`

	// Target is the predicted column (default: disease_cases).
	Target string `yaml:"target"`

	// Command templates for external models.
	Train    string `yaml:"train"`
	Predict  string `yaml:"predict"`
	Forecast string `yaml:"forecast"`

	// WorkDir is relative to the descriptor file unless absolute.
	WorkDir string            `yaml:"workDir"`
	Timeout string            `yaml:"timeout"`
	Env     map[string]string `yaml:"env"`
}

// LoadDescriptor reads a descriptor YAML file and validates it.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model descriptor: %w", err)
	}

	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, err
	}
	d.dir = filepath.Dir(path)
	return d, nil
}

// ParseDescriptor decodes and validates descriptor YAML.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks that required fields are present.
func (d *Descriptor) Validate() error {
	if d.APIVersion == "" {
		return fmt.Errorf("%w: missing apiVersion", ErrInvalidDescriptor)
	}
	if d.Kind != DescriptorKind {
		return fmt.Errorf("%w: kind must be %q, got %q", ErrInvalidDescriptor, DescriptorKind, d.Kind)
	}
	if d.Metadata.Name == "" {
		return fmt.Errorf("%w: missing metadata.name", ErrInvalidDescriptor)
	}
	if _, err := d.timeout(); err != nil {
		return err
	}

	switch d.Spec.Type {
	case ModelTypeBuiltin:
		if d.Spec.Builtin == "" {
			return fmt.Errorf("%w: builtin model %q missing spec.builtin", ErrInvalidDescriptor, d.Metadata.Name)
		}
	case ModelTypeExternal:
		if err := checkTemplate(d.Metadata.Name, "train", d.Spec.Train, PlaceholderTrainData); err != nil {
			return err
		}
		if err := checkTemplate(d.Metadata.Name, "predict", d.Spec.Predict, PlaceholderOutput); err != nil {
			return err
		}
		if d.Spec.Forecast != "" {
			if err := checkTemplate(d.Metadata.Name, "forecast", d.Spec.Forecast, PlaceholderOutput); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: spec.type must be %q or %q, got %q", ErrInvalidDescriptor, ModelTypeExternal, ModelTypeBuiltin, d.Spec.Type)
	}
	return nil
}

func (d *Descriptor) timeout() (time.Duration, error) {
	if d.Spec.Timeout == "" {
		return 0, nil
	}
	t, err := time.ParseDuration(d.Spec.Timeout)
	if err != nil || t < 0 {
		return 0, fmt.Errorf("%w: invalid spec.timeout %q", ErrInvalidDescriptor, d.Spec.Timeout)
	}
	return t, nil
}

// BuildOptions carries the run-scoped settings shared by every adapter.
type BuildOptions struct {
	Registry   *Registry     // Built-in estimators (default: NewRegistry())
	Timeout    time.Duration // Used when a descriptor sets none
	ScratchDir string
	KeepFiles  bool
	Logger     hermes.Logger
	Metrics    hermes.Metrics
}

// Build turns a descriptor into an adapter.
func Build(d *Descriptor, opts BuildOptions) (Adapter, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.Spec.Type == ModelTypeBuiltin {
		registry := opts.Registry
		if registry == nil {
			registry = NewRegistry()
		}
		est, err := registry.Estimator(d.Spec.Builtin, d.Spec.Target)
		if err != nil {
			return nil, err
		}
		return NewInProcess(d.Metadata.Name, d.Spec.Target, est), nil
	}

	timeout, _ := d.timeout()
	if timeout == 0 {
		timeout = opts.Timeout
	}
	workDir := d.Spec.WorkDir
	if workDir == "" {
		workDir = d.dir
	} else if !filepath.IsAbs(workDir) && d.dir != "" {
		workDir = filepath.Join(d.dir, workDir)
	}

	ext, err := NewExternal(ExternalConfig{
		Name:            d.Metadata.Name,
		TrainCommand:    d.Spec.Train,
		PredictCommand:  d.Spec.Predict,
		ForecastCommand: d.Spec.Forecast,
		WorkDir:         workDir,
		ScratchDir:      opts.ScratchDir,
		Timeout:         timeout,
		Env:             d.Spec.Env,
		Target:          d.Spec.Target,
		KeepFiles:       opts.KeepFiles,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return ext, nil
}

package command

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

// ErrInvalidPolicy is returned for a policy document that fails validation.
var ErrInvalidPolicy = errors.New("command: invalid policy") //nolint:gochecknoglobals // sentinel error

// Policy holds the intake limits. Languages and DenyList are stored
// lower-cased.
type Policy struct {
	MaxPromptLength int      `yaml:"max_prompt_length"`
	DefaultLanguage string   `yaml:"default_language"`
	Languages       []string `yaml:"languages"`
	DenyList        []string `yaml:"deny_list"`
}

// DefaultPolicy returns the embedded policy.
func DefaultPolicy() *Policy {
	p, err := ParsePolicy(defaultPolicyYAML)
	if err != nil {
		panic(fmt.Sprintf("command: embedded policy: %v", err))
	}
	return p
}

// LoadPolicy reads a policy file. An empty path yields the embedded default.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("command.LoadPolicy: %w", err)
	}

	p, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("command.LoadPolicy: %s: %w", path, err)
	}
	return p, nil
}

// ParsePolicy decodes a YAML policy. Unknown keys are rejected so a typo
// cannot silently disable a limit.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", errors.Join(err, ErrInvalidPolicy))
	}

	p.DefaultLanguage = normalizeLanguage(p.DefaultLanguage)
	for i, l := range p.Languages {
		p.Languages[i] = normalizeLanguage(l)
	}
	kept := p.DenyList[:0]
	for _, tok := range p.DenyList {
		if tok = strings.ToLower(strings.TrimSpace(tok)); tok != "" {
			kept = append(kept, tok)
		}
	}
	p.DenyList = kept

	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Policy) validate() error {
	var errs []error

	if p.MaxPromptLength <= 0 {
		errs = append(errs, errors.New("max_prompt_length must be positive"))
	}
	if len(p.Languages) == 0 {
		errs = append(errs, errors.New("languages must not be empty"))
	}
	if !slices.Contains(p.Languages, p.DefaultLanguage) {
		errs = append(errs, fmt.Errorf("default_language %q not in languages", p.DefaultLanguage))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, errors.Join(errs...))
	}
	return nil
}

// SupportsLanguage reports whether lang is on the allow-list.
func (p *Policy) SupportsLanguage(lang string) bool {
	return slices.Contains(p.Languages, normalizeLanguage(lang))
}

func normalizeLanguage(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

package models

import (
	"fmt"
	"time"
)

// JobDefinition is the declarative description of one extract/transform/load
// unit. Definitions are loaded from the job catalog at startup and never
// mutated afterwards; every run works on a template-resolved copy.
type JobDefinition struct {
	Provider  string         `yaml:"provider" json:"provider"`
	Domain    string         `yaml:"domain" json:"domain"`
	Name      string         `yaml:"name" json:"name"`
	Processor string         `yaml:"processor" json:"processor"`
	Params    []ParamSpec    `yaml:"params" json:"params"`
	Source    map[string]any `yaml:"source" json:"source"`
	Target    map[string]any `yaml:"target" json:"target"`
}

// Key identifies the definition in the processor registry.
func (d JobDefinition) Key() JobKey {
	return JobKey{Provider: d.Provider, Domain: d.Domain, Name: d.Name}
}

type JobKey struct {
	Provider string `json:"provider"`
	Domain   string `json:"domain"`
	Name     string `json:"name"`
}

func (k JobKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Provider, k.Domain, k.Name)
}

// ParamSpec describes one caller-suppliable parameter. Defaults may themselves
// be template expressions (e.g. "{{yesterday}}") and are resolved per run.
type ParamSpec struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required" json:"required"`
	Default  string `yaml:"default" json:"default"`
}

// TenantContext carries everything a single run needs for template resolution
// and processor execution. It is built fresh per invocation and never shared
// between concurrent runs.
type TenantContext struct {
	TenantID    string
	Environment string
	RunID       string
	Now         time.Time
	Params      map[string]string
}

// NewTenantContext builds the per-run context. now is injected so resolution
// stays deterministic under test.
func NewTenantContext(tenant Tenant, runID string, now time.Time, params map[string]string) TenantContext {
	merged := make(map[string]string, len(params))
	for k, v := range params {
		merged[k] = v
	}
	return TenantContext{
		TenantID:    tenant.ID,
		Environment: tenant.Environment,
		RunID:       runID,
		Now:         now,
		Params:      merged,
	}
}

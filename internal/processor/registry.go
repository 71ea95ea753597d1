package processor

import (
	"fmt"

	"github.com/spendlens/spendlens-api/internal/apperr"
	"github.com/spendlens/spendlens-api/internal/datastore"
	"github.com/spendlens/spendlens-api/internal/models"
)

// Registry maps a (provider, domain, job) triple to its definition and
// processor. It is populated at process start from the job catalog and
// read-only afterwards.
type Registry struct {
	defs  map[models.JobKey]models.JobDefinition
	procs map[models.JobKey]Processor
}

func NewRegistry() *Registry {
	return &Registry{
		defs:  make(map[models.JobKey]models.JobDefinition),
		procs: make(map[models.JobKey]Processor),
	}
}

func (r *Registry) Register(def models.JobDefinition, proc Processor) error {
	key := def.Key()
	if key.Provider == "" || key.Domain == "" || key.Name == "" {
		return fmt.Errorf("job definition missing provider/domain/name: %+v", key)
	}
	if _, exists := r.defs[key]; exists {
		return fmt.Errorf("duplicate job definition %s", key)
	}
	r.defs[key] = def
	r.procs[key] = proc
	return nil
}

// Resolve returns the definition and processor for a triple, or a
// job-not-found error for an unknown one.
func (r *Registry) Resolve(key models.JobKey) (models.JobDefinition, Processor, error) {
	def, ok := r.defs[key]
	if !ok {
		return models.JobDefinition{}, nil, apperr.New(apperr.KindJobNotFound, "unknown job %s", key)
	}
	return def, r.procs[key], nil
}

func (r *Registry) Definitions() []models.JobDefinition {
	defs := make([]models.JobDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	return defs
}

// Deps holds what processor constructors need.
type Deps struct {
	Store   datastore.Store
	Clients map[string]APIClient
}

// Build wires a registry from catalog definitions, selecting the processor
// implementation each definition names.
func Build(defs []models.JobDefinition, deps Deps) (*Registry, error) {
	registry := NewRegistry()
	for _, def := range defs {
		client := deps.Clients[def.Provider]
		if client == nil {
			return nil, fmt.Errorf("job %s: no API client configured for provider %s", def.Key(), def.Provider)
		}
		var proc Processor
		switch def.Processor {
		case "aws_cost":
			proc = NewAWSCostProcessor(client, deps.Store)
		case "gcp_billing":
			proc = NewGCPBillingProcessor(client, deps.Store)
		case "openai_usage":
			proc = NewOpenAIUsageProcessor(client, deps.Store)
		default:
			return nil, fmt.Errorf("job %s references unknown processor %q", def.Key(), def.Processor)
		}
		if err := registry.Register(def, proc); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

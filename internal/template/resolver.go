// Package template resolves {{variable}} placeholders in job definitions
// against a per-run tenant context. Resolution is pure: no I/O, no clock
// reads, deterministic for a given context.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spendlens/spendlens-api/internal/apperr"
	"github.com/spendlens/spendlens-api/internal/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_][a-zA-Z0-9_.-]*)\s*\}\}`)

// Resolved is a fully-substituted copy of a job definition ready for
// execution. No placeholder survives resolution; a leftover placeholder is a
// hard error, never passed through.
type Resolved struct {
	Job    models.JobKey
	Params map[string]string
	Source map[string]any
	Target map[string]any
}

// Variables builds the substitution map for one run: tenant identity, dates,
// run id, and any caller-supplied parameters. Caller parameters shadow the
// built-ins.
func Variables(tc models.TenantContext) map[string]string {
	now := tc.Now
	yesterday := now.AddDate(0, 0, -1)
	vars := map[string]string{
		"tenant_id":   tc.TenantID,
		"environment": tc.Environment,
		"run_id":      tc.RunID,
		"date":        now.Format("2006-01-02"),
		"yesterday":   yesterday.Format("2006-01-02"),
		"year":        now.Format("2006"),
		"month":       now.Format("01"),
		"day":         now.Format("02"),
	}
	for k, v := range tc.Params {
		vars[k] = v
	}
	return vars
}

// Resolve expands every placeholder in the definition's parameter defaults and
// source/target trees. Required parameters without a caller value or default
// and unknown placeholders both fail with an unresolved-template error.
func Resolve(def models.JobDefinition, tc models.TenantContext) (Resolved, error) {
	vars := Variables(tc)

	params, err := resolveParams(def.Params, tc.Params, vars)
	if err != nil {
		return Resolved{}, err
	}
	// Resolved parameters become substitutable in the location templates.
	for k, v := range params {
		vars[k] = v
	}

	source, err := resolveTree(def.Source, vars)
	if err != nil {
		return Resolved{}, err
	}
	target, err := resolveTree(def.Target, vars)
	if err != nil {
		return Resolved{}, err
	}

	return Resolved{Job: def.Key(), Params: params, Source: source, Target: target}, nil
}

func resolveParams(specs []models.ParamSpec, supplied, vars map[string]string) (map[string]string, error) {
	params := make(map[string]string, len(specs))
	for _, spec := range specs {
		if v, ok := supplied[spec.Name]; ok {
			params[spec.Name] = v
			continue
		}
		if spec.Default != "" {
			resolved, err := ResolveString(spec.Default, vars)
			if err != nil {
				return nil, err
			}
			params[spec.Name] = resolved
			continue
		}
		if spec.Required {
			return nil, apperr.New(apperr.KindUnresolvedTemplate,
				"required parameter %q has no value and no default", spec.Name)
		}
	}
	return params, nil
}

func resolveTree(tree map[string]any, vars map[string]string) (map[string]any, error) {
	if tree == nil {
		return nil, nil
	}
	out, err := resolveValue(tree, vars)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func resolveValue(value any, vars map[string]string) (any, error) {
	switch v := value.(type) {
	case string:
		return ResolveString(v, vars)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := resolveValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := resolveValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	default:
		// Numbers, booleans and nulls pass through untouched.
		return v, nil
	}
}

// ResolveString substitutes every placeholder in a single string. An unknown
// variable is a hard error; executing a partially-resolved location against
// the wrong table or date range would be a correctness bug.
func ResolveString(s string, vars map[string]string) (string, error) {
	var unresolved []string
	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		unresolved = append(unresolved, name)
		return match
	})
	if len(unresolved) > 0 {
		return "", apperr.New(apperr.KindUnresolvedTemplate,
			"unresolved placeholder(s) %s in %q", fmt.Sprintf("{{%s}}", strings.Join(unresolved, "}}, {{")), s)
	}
	return out, nil
}

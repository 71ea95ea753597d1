package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spendlens/spendlens-api/internal/models"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadJobDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "aws.yaml", `
jobs:
  - provider: aws
    domain: cost
    name: daily_spend
    processor: aws_cost
    params:
      - name: date
        type: date
        default: "{{yesterday}}"
    source:
      endpoint: /v1/cost-explorer
    target:
      table: aws_cost_daily
`)
	writeCatalog(t, dir, "openai.yml", `
jobs:
  - provider: openai
    domain: usage
    name: daily_tokens
    processor: openai_usage
    target:
      table: openai_usage_daily
`)
	writeCatalog(t, dir, "notes.txt", "not a catalog")

	defs, err := LoadJobDefinitions(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	byKey := make(map[models.JobKey]models.JobDefinition)
	for _, def := range defs {
		byKey[def.Key()] = def
	}
	aws := byKey[models.JobKey{Provider: "aws", Domain: "cost", Name: "daily_spend"}]
	require.Equal(t, "aws_cost", aws.Processor)
	require.Len(t, aws.Params, 1)
	require.Equal(t, "{{yesterday}}", aws.Params[0].Default)
	require.Equal(t, "/v1/cost-explorer", aws.Source["endpoint"])
	require.Equal(t, "aws_cost_daily", aws.Target["table"])
}

func TestLoadJobDefinitionsRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	catalog := `
jobs:
  - provider: aws
    domain: cost
    name: daily_spend
    processor: aws_cost
`
	writeCatalog(t, dir, "a.yaml", catalog)
	writeCatalog(t, dir, "b.yaml", catalog)

	_, err := LoadJobDefinitions(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already defined")
}

func TestLoadJobDefinitionsValidation(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "bad.yaml", `
jobs:
  - provider: aws
    domain: cost
    name: daily_spend
`)
	_, err := LoadJobDefinitions(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no processor")

	empty := t.TempDir()
	_, err = LoadJobDefinitions(empty)
	require.Error(t, err)

	_, err = LoadJobDefinitions(filepath.Join(empty, "missing"))
	require.Error(t, err)
}

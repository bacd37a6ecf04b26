package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplateFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadDirRegistersYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	writeTemplateFile(t, dir, "triage.yaml", `
name: triage
workflow_type: customer_support
description: Route incoming messages
default_params:
  model: gpt-4o
  temperature: 0.2
tags: [support, routing]
`)
	writeTemplateFile(t, dir, "digest.json", `{
  "name": "digest",
  "workflow_type": "conversation_summary",
  "default_params": {"model": "gpt-3.5-turbo", "max_tokens": 512}
}`)
	writeTemplateFile(t, dir, "notes.txt", "not a template")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	r := NewRegistry()
	loaded, err := LoadDir(r, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded, "txt file and subdirectory are ignored")

	triage, err := r.Get("triage")
	require.NoError(t, err)
	assert.Equal(t, "customer_support", triage.WorkflowType)
	assert.Equal(t, "gpt-4o", triage.DefaultParams["model"])
	assert.InDelta(t, 0.2, triage.DefaultParams["temperature"], 1e-9)
	assert.True(t, triage.HasTag("routing"))
	assert.Equal(t, "1.0.0", triage.Version, "version defaults on register")

	digest, err := r.Get("digest")
	require.NoError(t, err)
	assert.Equal(t, "conversation_summary", digest.WorkflowType)
}

func TestLoadDirReplacesExistingVersion(t *testing.T) {
	dir := t.TempDir()
	writeTemplateFile(t, dir, "triage.yaml", `
name: triage
workflow_type: customer_support
default_params:
  model: gpt-4
`)

	r := NewRegistry()
	require.NoError(t, r.Register(&Template{
		Name:          "triage",
		WorkflowType:  "customer_support",
		DefaultParams: map[string]any{"model": "gpt-3.5-turbo"},
	}))

	loaded, err := LoadDir(r, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	got, err := r.Get("triage")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", got.DefaultParams["model"], "file shadows the registered copy")
	assert.Equal(t, 1, r.Count())
}

func TestLoadDirRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	writeTemplateFile(t, dir, "broken.yaml", "name: [unclosed")

	r := NewRegistry()
	_, err := LoadDir(r, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestLoadDirMissingDirectory(t *testing.T) {
	r := NewRegistry()
	_, err := LoadDir(r, filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read template directory")
}

func TestLoadFileNameFallsBackToFilename(t *testing.T) {
	dir := t.TempDir()
	writeTemplateFile(t, dir, "escalation.yaml", `
workflow_type: customer_support
default_params:
  model: gpt-4
`)

	got, err := LoadFile(filepath.Join(dir, "escalation.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "escalation", got.Name)
}

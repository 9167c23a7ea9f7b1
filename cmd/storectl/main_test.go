package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/record"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/store"
)

// seededConfig writes a config for an on-disk store holding four tasks.
func seededConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(store.DataDirEnv, dir)
	t.Setenv("LOGGING_LEVEL", "ERROR")
	for _, key := range []string{store.KindEnv, store.PathEnv, store.DSNEnv} {
		t.Setenv(key, "")
	}
	path := filepath.Join(dir, "storectl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  kind: on-disk\n  path: tasks\n"), 0o600))

	ctx := context.Background()
	eng, err := store.Open(ctx, store.OnDisk("tasks"))
	require.NoError(t, err)
	defer eng.Close()
	var inserted []record.Snapshot
	for _, v := range []map[string]any{
		{"title": "milk", "shelf": 1, "done": true},
		{"title": "eggs", "shelf": 1, "done": false},
		{"title": "tea", "shelf": 2, "done": true},
		{"title": "rice", "shelf": 3, "done": false},
	} {
		inserted = append(inserted, record.Snapshot{ID: record.NewObjectID("Task"), Values: v})
	}
	require.NoError(t, eng.Persist(ctx, "seed", engine.ChangeLog{Inserted: inserted}))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"count", "distinct", "purge"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestCount(t *testing.T) {
	config := seededConfig(t)

	out, err := run(t, "count", "Task", "--config", config)
	require.NoError(t, err)
	assert.Equal(t, "4", out)

	out, err = run(t, "count", "Task", "--config", config, "--where", "done == true AND shelf < 2")
	require.NoError(t, err)
	assert.Equal(t, "1", out)

	out, err = run(t, "count", "Task", "--config", config, "--format", "json", "-w", `title ==[c] "MILK"`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entity":"Task","count":1}`, out)
}

func TestDistinct(t *testing.T) {
	config := seededConfig(t)

	out, err := run(t, "distinct", "Task", "--config", config, "--field", "shelf")
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3", out)

	out, err = run(t, "distinct", "Task", "--config", config, "-f", "shelf", "-f", "done", "--desc", "--format", "json")
	require.NoError(t, err)
	var decoded struct {
		Fields []string `json:"fields"`
		Tuples [][]any  `json:"tuples"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, []string{"shelf", "done"}, decoded.Fields)
	assert.Len(t, decoded.Tuples, 4)
	assert.Equal(t, float64(3), decoded.Tuples[0][0])
}

func TestPurge(t *testing.T) {
	config := seededConfig(t)

	_, err := run(t, "purge", "Task", "--config", config)
	assert.ErrorContains(t, err, "--where")

	out, err := run(t, "purge", "Task", "--config", config, "--where", "done == true")
	require.NoError(t, err)
	assert.Equal(t, "deleted 2 Task (bulk)", out)

	out, err = run(t, "count", "Task", "--config", config)
	require.NoError(t, err)
	assert.Equal(t, "2", out)

	out, err = run(t, "purge", "Task", "--config", config, "--all", "--format", "json")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Len(t, decoded["deleted"], 2)
	assert.Equal(t, "bulk", decoded["strategy"])
}

func TestPurge_MetricsFile(t *testing.T) {
	config := seededConfig(t)
	path := filepath.Join(t.TempDir(), "storectl.prom")

	_, err := run(t, "purge", "Task", "--config", config, "--all", "--metrics-file", path)
	require.NoError(t, err)
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(written),
		`asceticstore_context_operations_total{context="background",operation="batch_delete"} 1`)
}

func TestInvalidInput(t *testing.T) {
	config := seededConfig(t)

	_, err := run(t, "count", "Task", "--config", config, "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")

	_, err = run(t, "count", "Task", "--config", config, "--where", "title ==")
	assert.ErrorContains(t, err, "invalid --where")

	_, err = run(t, "count", "Task", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

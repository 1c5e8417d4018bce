package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/flux/internal/config"
	"github.com/roach88/flux/internal/ir"
)

type cliResult struct {
	stdout string
	stderr string
	code   int
}

// runCLI executes the root command with opts (nil for defaults).
func runCLI(t *testing.T, opts *RootOptions, args ...string) cliResult {
	t.Helper()
	if opts == nil {
		opts = &RootOptions{}
	}
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), opts, args, &stdout, &stderr)
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

// jsonResponse decodes a JSON envelope, unmarshaling its data into data.
func jsonResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), "output: %s", out)
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}

// writeConfig writes a two-shard config under a temp dir and returns its
// path. endpoints become dispatch endpoint aliases.
func writeConfig(t *testing.T, endpoints map[string]string) string {
	t.Helper()

	var b strings.Builder
	b.WriteString(`shards:
  - {id: 0, path: data/shard-0.db}
  - {id: 1, path: data/shard-1.db}
dispatch:
  timeout: 2s
  max_attempts: 2
  backoff: 10ms
  concurrency: 2
`)
	if len(endpoints) > 0 {
		b.WriteString("  endpoints:\n")
		names := make([]string, 0, len(endpoints))
		for name := range endpoints {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "    %s: %q\n", name, endpoints[name])
		}
	}

	path := filepath.Join(t.TempDir(), "flux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

// writeFile writes content to a new file in a temp dir.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const orderMachine = `{
  "state_machine": {"id": "wf-1", "name": "order", "version": 1},
  "states": [
    {"id": 1, "name": "reserve", "task": "Reserve", "dependencies": ["orderPlaced"],
     "status": "completed", "retry_count": 2, "timeout": 1000},
    {"id": 2, "name": "charge", "task": "Charge", "dependencies": ["reserved"],
     "status": "errored", "retry_count": 3, "timeout": 1000},
    {"id": 3, "name": "ship", "task": "Ship", "dependencies": ["charged"],
     "status": "initialized", "retry_count": 1, "timeout": 500}
  ]
}`

// createOrderMachine persists wf-1 through the create command.
func createOrderMachine(t *testing.T, cfgPath string) {
	t.Helper()
	res := runCLI(t, nil, "--config", cfgPath, "create", "--file", writeFile(t, "wf-1.json", orderMachine))
	require.Equal(t, ExitSuccess, res.code, "stdout: %s stderr: %s", res.stdout, res.stderr)
}

// routeOf returns the shard smID routes to under the config at cfgPath.
func routeOf(t *testing.T, cfgPath, smID string) ir.ShardID {
	t.Helper()
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	table, err := cfg.Table()
	require.NoError(t, err)
	id, err := table.Route(smID)
	require.NoError(t, err)
	return id
}

// statesOf reads wf states through the states command.
func statesOf(t *testing.T, cfgPath, smID string) map[int64]ir.State {
	t.Helper()
	res := runCLI(t, nil, "--config", cfgPath, "--format", "json", "states", smID)
	require.Equal(t, ExitSuccess, res.code, res.stdout)

	var out StatesResult
	jsonResponse(t, res.stdout, &out)
	byID := make(map[int64]ir.State, len(out.States))
	for _, s := range out.States {
		byID[s.ID] = s
	}
	return byID
}

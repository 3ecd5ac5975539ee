package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-depscan/internal/cmd/app"
	"github.com/ortelius/pdvd-depscan/internal/enginetest"
	"github.com/ortelius/pdvd-depscan/internal/services"
	"github.com/ortelius/pdvd-depscan/model"
)

func TestRequests(t *testing.T) {
	reqs, err := requests(&options{version: "==2.0.1", dependencies: []string{"werkzeug==2.0.1"}}, []string{"pypi:flask"})
	require.NoError(t, err)
	assert.Equal(t, []model.ScanRequest{{
		Ecosystem:    "pypi",
		Package:      "flask",
		Version:      "==2.0.1",
		Dependencies: []string{"werkzeug==2.0.1"},
	}}, reqs)

	_, err = requests(&options{version: "1.0"}, []string{"pypi:flask", "npm:lodash"})
	assert.Error(t, err)

	_, err = requests(&options{}, nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
targets:
  - package: flask
    ecosystem: pypi
    version: "==2.0.1"
  - purl: pkg:npm/lodash@4.17.20
`), 0o600))
	reqs, err = requests(&options{file: path}, []string{"pypi:jinja2"})
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, "pkg:npm/lodash@4.17.20", reqs[1].PURL)
	assert.Equal(t, "jinja2", reqs[2].Package)
}

func TestRun(t *testing.T) {
	a := &app.App{Service: services.NewScanService(enginetest.New().Flask().Engine, nil)}
	reqs := []model.ScanRequest{{Ecosystem: "pypi", Package: "flask", Version: "==2.0.1"}}

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), a, &options{format: "json", noProgress: true}, reqs, &stdout, &stderr))

	var report model.ScanReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.Equal(t, model.SeverityHigh, report.RiskLevel)
	require.Len(t, report.Findings, 1)

	stdout.Reset()
	err := run(context.Background(), a, &options{format: "json", noProgress: true, failOn: "high"}, reqs, &stdout, &stderr)
	assert.ErrorContains(t, err, "reaches HIGH")
	assert.NotEmpty(t, stdout.String())

	err = run(context.Background(), a, &options{format: "json", noProgress: true, failOn: "critical"}, reqs, &stdout, &stderr)
	assert.NoError(t, err)

	err = run(context.Background(), a, &options{format: "json", noProgress: true, failOn: "severe"}, reqs, &stdout, &stderr)
	assert.Error(t, err)
}

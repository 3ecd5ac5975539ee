package app_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-depscan/internal/cmd/app"
	"github.com/ortelius/pdvd-depscan/model"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		arg     string
		want    model.ScanRequest
		wantErr bool
	}{
		{arg: "pkg:pypi/django@1.11", want: model.ScanRequest{PURL: "pkg:pypi/django@1.11"}},
		{arg: "pypi:django@==1.11", want: model.ScanRequest{Ecosystem: "pypi", Package: "django", Version: "==1.11"}},
		{arg: "npm:@babel/core@^7.0.0", want: model.ScanRequest{Ecosystem: "npm", Package: "@babel/core", Version: "^7.0.0"}},
		{arg: "npm:@babel/core", want: model.ScanRequest{Ecosystem: "npm", Package: "@babel/core"}},
		{arg: "maven:org.apache.logging.log4j:log4j-core@2.14.1", want: model.ScanRequest{Ecosystem: "maven", Package: "org.apache.logging.log4j:log4j-core", Version: "2.14.1"}},
		{arg: "django", wantErr: true},
		{arg: "pypi:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := app.ParseTarget(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWrite(t *testing.T) {
	stats := model.StoreStats{Packages: 3, Reports: 1}

	var buf bytes.Buffer
	require.NoError(t, app.Write(&buf, "json", stats))
	assert.Contains(t, buf.String(), `"packages": 3`)

	buf.Reset()
	require.NoError(t, app.Write(&buf, "yaml", stats))
	assert.Contains(t, buf.String(), "packages: 3\n")
	assert.Contains(t, buf.String(), "reports: 1\n")

	assert.Error(t, app.Write(&buf, "xml", stats))
}

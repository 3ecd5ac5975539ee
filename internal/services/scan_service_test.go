package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-depscan/internal/enginetest"
	"github.com/ortelius/pdvd-depscan/internal/services"
	"github.com/ortelius/pdvd-depscan/model"
)

func TestValidate(t *testing.T) {
	svc := services.NewScanService(enginetest.New().Engine, nil)

	tests := []struct {
		name    string
		req     model.ScanRequest
		want    model.ScanTarget
		wantErr bool
	}{
		{
			name: "package and ecosystem",
			req:  model.ScanRequest{Package: "Flask", Ecosystem: "PyPI", Version: "==2.0.1"},
			want: model.ScanTarget{Root: model.MustPackageIdentity("flask", "pypi"), Spec: "==2.0.1"},
		},
		{
			name: "language in place of ecosystem",
			req:  model.ScanRequest{Package: "lodash", Language: "JavaScript"},
			want: model.ScanTarget{Root: model.MustPackageIdentity("lodash", "npm")},
		},
		{
			name: "purl",
			req:  model.ScanRequest{PURL: "pkg:pypi/django@1.11"},
			want: model.ScanTarget{Root: model.MustPackageIdentity("django", "pypi"), Spec: "==1.11"},
		},
		{
			name: "declared dependencies",
			req:  model.ScanRequest{Package: "app", Ecosystem: "npm", Dependencies: []string{"lodash ^4.17.0", "@babel/core@7.0.0"}},
			want: model.ScanTarget{
				Root: model.MustPackageIdentity("app", "npm"),
				Declared: []model.DependencyRef{
					{Identity: model.MustPackageIdentity("lodash", "npm"), Spec: "^4.17.0"},
					{Identity: model.MustPackageIdentity("@babel/core", "npm"), Spec: "7.0.0"},
				},
			},
		},
		{name: "nothing named", req: model.ScanRequest{Ecosystem: "pypi"}, wantErr: true},
		{name: "no ecosystem", req: model.ScanRequest{Package: "flask"}, wantErr: true},
		{name: "bad repo url", req: model.ScanRequest{Package: "flask", Ecosystem: "pypi", RepoURL: "not a url"}, wantErr: true},
		{name: "bad purl", req: model.ScanRequest{PURL: "pypi/django"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Validate(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScanStoresReportAndImpact(t *testing.T) {
	fx := enginetest.New().Flask()
	svc := services.NewScanService(fx.Engine, nil)
	ctx := context.Background()

	report, err := svc.Scan(ctx, model.ScanRequest{Package: "flask", Ecosystem: "pypi", Version: "==2.0.1"})
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "GHSA-werk", report.Findings[0].AdvisoryID)

	stored, err := svc.Report(ctx, "pypi:flask@==2.0.1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, report.ID, stored.ID)

	impact, err := svc.Impact(ctx, model.MustPackageIdentity("werkzeug", "pypi"), 0)
	require.NoError(t, err)
	require.Len(t, impact, 1)
	assert.Equal(t, "flask", impact[0].Package.Name)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Reports)
}

func TestScanAllValidatesFirst(t *testing.T) {
	fx := enginetest.New().Flask()
	svc := services.NewScanService(fx.Engine, nil)

	_, err := svc.ScanAll(context.Background(), []model.ScanRequest{
		{Package: "flask", Ecosystem: "pypi"},
		{Ecosystem: "pypi"},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target 1")

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Reports)
}

package osv_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-depscan/internal/fetch"
	"github.com/ortelius/pdvd-depscan/internal/osv"
	"github.com/ortelius/pdvd-depscan/model"
)

const pageOne = `{"vulns":[{
	"id":"GHSA-aaaa","aliases":["CVE-2019-0001"],"summary":"SQL injection",
	"severity":[{"type":"CVSS_V3","score":"CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"}],
	"references":[{"type":"WEB","url":"https://example.test/a"}],
	"affected":[
		{"package":{"ecosystem":"PyPI","name":"Django"},
		 "ranges":[{"type":"ECOSYSTEM","events":[{"introduced":"0"},{"fixed":"2.2.1"}]},
		           {"type":"GIT","repo":"https://github.com/django/django","events":[{"introduced":"0"},{"fixed":"abc123"}]}],
		 "versions":["1.11","2.0"]},
		{"package":{"ecosystem":"PyPI","name":"other"},
		 "ranges":[{"type":"ECOSYSTEM","events":[{"introduced":"0"},{"fixed":"9.9"}]}]}]}],
	"next_page_token":"p2"}`

const pageTwo = `{"vulns":[{
	"id":"PYSEC-bbbb","details":"` + "%s" + `",
	"database_specific":{"severity":"MODERATE"},
	"affected":[{"package":{"ecosystem":"PyPI","name":"django"},
		"ranges":[{"type":"ECOSYSTEM","events":[{"introduced":"1.0"},{"last_affected":"3.0"}]}]}]},
	{"id":"GHSA-aaaa"}]}`

func TestQueryPaginatesAndConverts(t *testing.T) {
	longDetails := strings.Repeat("x", 700)
	var requests []map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/query", r.URL.Path)
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requests = append(requests, body)
		if body["page_token"] == "p2" {
			_, _ = w.Write([]byte(strings.Replace(pageTwo, "%s", longDetails, 1)))
			return
		}
		_, _ = w.Write([]byte(pageOne))
	}))
	defer srv.Close()

	c := osv.New(fetch.New(fetch.Options{RatePerSecond: -1}), srv.URL, nil)
	recs, err := c.Query(context.Background(), model.MustPackageIdentity("Django", "pypi"), nil)
	require.NoError(t, err)

	require.Len(t, requests, 2)
	pkg := requests[0]["package"].(map[string]interface{})
	assert.Equal(t, "PyPI", pkg["ecosystem"])
	assert.Equal(t, "django", pkg["name"])
	assert.NotContains(t, requests[0], "version")

	require.Len(t, recs, 2)

	a := recs[0]
	assert.Equal(t, "GHSA-aaaa", a.ID)
	assert.Equal(t, model.SeverityCritical, a.Severity)
	assert.InDelta(t, 9.8, a.CVSSScore, 0.001)
	assert.Equal(t, []string{"2.2.1"}, a.FixedVersions)
	assert.Equal(t, []string{"1.11", "2.0"}, a.AffectedVersions)
	require.Len(t, a.AffectedRanges, 2)
	assert.Equal(t, model.RangeGit, a.AffectedRanges[1].Type)
	assert.Equal(t, []string{"https://example.test/a"}, a.References)

	b := recs[1]
	assert.Equal(t, "PYSEC-bbbb", b.ID)
	assert.Equal(t, model.SeverityMedium, b.Severity)
	assert.Equal(t, "3.0", b.AffectedRanges[0].Events[1].LastAffected)
	assert.Len(t, []rune(b.Description), 503)
}

func TestQuerySendsExactVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "1.2.3", body["version"])
		assert.Equal(t, "crates.io", body["package"].(map[string]interface{})["ecosystem"])
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := osv.New(fetch.New(fetch.Options{RatePerSecond: -1}), srv.URL, nil)
	v := model.Exact("1.2.3", model.EcosystemCrates)
	recs, err := c.Query(context.Background(), model.MustPackageIdentity("time", "crates"), &v)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestQueryFailureIsSourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := osv.New(fetch.New(fetch.Options{RatePerSecond: -1, RetryWait: time.Millisecond}), srv.URL, nil)
	_, err := c.Query(context.Background(), model.MustPackageIdentity("lodash", "npm"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrVulnerabilitySourceUnavailable))
}

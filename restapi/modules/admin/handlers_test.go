package admin_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/pdvd-depscan/internal/enginetest"
	"github.com/ortelius/pdvd-depscan/internal/services"
	"github.com/ortelius/pdvd-depscan/restapi/modules/admin"
)

func TestBatchScan(t *testing.T) {
	svc := services.NewScanService(enginetest.New().Flask().Engine, nil)
	batch := admin.NewBatch(svc, nil)
	app := fiber.New()
	app.Post("/batch", batch.PostBatchScan())
	app.Get("/batch", batch.GetBatchStatus())

	post := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/batch", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, post(`{"targets":[]}`))
	assert.Equal(t, "idle", batch.Status().Status)

	require.Equal(t, http.StatusAccepted, post(`{"targets":[
		{"package":"flask","ecosystem":"pypi","version":"==2.0.1"},
		{"package":"jinja2","ecosystem":"pypi"}
	]}`))
	batch.Wait()

	status := batch.Status()
	assert.False(t, status.Running)
	assert.Equal(t, "complete", status.Status)
	assert.Equal(t, 2, status.Completed)
	assert.Len(t, status.Summaries, 2)

	require.Equal(t, http.StatusAccepted, post(`{"targets":[{"ecosystem":"pypi"}]}`))
	batch.Wait()
	status = batch.Status()
	assert.Equal(t, "failed", status.Status)
	assert.NotEmpty(t, status.Error)
}

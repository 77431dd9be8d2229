package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-labeler-be/internal/pkg/logger"
	"image-labeler-be/internal/pkg/serverutils"
	"image-labeler-be/internal/repository/memory"
	"image-labeler-be/internal/service"
	"image-labeler-be/pkg/oracle"
	"image-labeler-be/pkg/results"
)

type scoredOracle struct {
	scores map[string]float64
	err    error
}

func (o *scoredOracle) Classify(_ context.Context, _ *oracle.Image, set []string) ([]oracle.Result, error) {
	if o.err != nil {
		return nil, o.err
	}
	out := make([]oracle.Result, len(set))
	for i, l := range set {
		out[i] = oracle.Result{Label: l, Score: o.scores[l]}
	}
	return out, nil
}

func (o *scoredOracle) ModelID() string { return "test/clip" }
func (o *scoredOracle) Ready() bool     { return true }

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestApp(o *scoredOracle) *fiber.App {
	repo := memory.NewSessionRepository(time.Hour)
	svc := service.NewLabelerService(o, repo, nil, nil, logger.NewNopLogger(), service.LabelerOptions{
		Threshold:     results.DefaultThreshold,
		OracleTimeout: 5 * time.Second,
	})

	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	api := app.Group("/api")
	NewLabelerController(svc, time.Hour).RegisterRoutes(api)
	NewAdminController(svc, o, repo, "secret").RegisterRoutes(api)
	return app
}

func multipartRequest(t *testing.T, fields map[string]string, filename string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		fw, err := w.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/labeler/v1/analyze", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func decode(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	return nil
}

func TestAnalyzeIssuesSessionAndExports(t *testing.T) {
	app := newTestApp(&scoredOracle{scores: map[string]float64{"pizza": 0.91, "cake": 0.04}})

	resp, err := app.Test(multipartRequest(t, map[string]string{"preset": "Food"}, "lunch.png", testPNG(t)))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	cookie := sessionCookie(resp)
	require.NotNil(t, cookie)

	env := decode(t, resp)
	assert.True(t, env.Success)
	var data struct {
		Outcome string `json:"outcome"`
		Matches []struct {
			Tag string `json:"tag"`
		} `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "MATCHED", data.Outcome)
	require.Len(t, data.Matches, 1)
	assert.Equal(t, "pizza (91%)", data.Matches[0].Tag)

	req := httptest.NewRequest(http.MethodGet, "/api/labeler/v1/export", nil)
	req.AddCookie(cookie)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "attachment")
	assert.True(t, strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), "text/csv"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "label,score\npizza,0.91\n", string(body))
}

func TestExportWithoutAnalysisIsNotFound(t *testing.T) {
	app := newTestApp(&scoredOracle{})
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/labeler/v1/export", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestAnalyzeErrorStatuses(t *testing.T) {
	tests := []struct {
		name     string
		oracle   *scoredOracle
		fields   map[string]string
		filename string
		file     []byte
		want     int
	}{
		{"missing image", &scoredOracle{}, map[string]string{"preset": "Food"}, "", nil, fiber.StatusBadRequest},
		{"missing preset", &scoredOracle{}, map[string]string{}, "a.png", nil, fiber.StatusBadRequest},
		{"empty custom labels", &scoredOracle{}, map[string]string{"preset": "Custom", "labels": " , "}, "a.png", nil, fiber.StatusBadRequest},
		{"unknown preset", &scoredOracle{}, map[string]string{"preset": "Cars"}, "a.png", nil, fiber.StatusBadRequest},
		{"bad extension", &scoredOracle{}, map[string]string{"preset": "Food"}, "a.bmp", nil, fiber.StatusUnsupportedMediaType},
		{"undecodable", &scoredOracle{}, map[string]string{"preset": "Food"}, "a.png", []byte("nope"), fiber.StatusUnprocessableEntity},
		{"oracle unavailable", &scoredOracle{err: oracle.ErrOracleUnavailable}, map[string]string{"preset": "Food"}, "a.png", nil, fiber.StatusServiceUnavailable},
		{"oracle failure", &scoredOracle{err: oracle.ErrOracleFailure}, map[string]string{"preset": "Food"}, "a.png", nil, fiber.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := tt.file
			if file == nil {
				file = testPNG(t)
			}
			app := newTestApp(tt.oracle)
			resp, err := app.Test(multipartRequest(t, tt.fields, tt.filename, file))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			env := decode(t, resp)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestNoConfidentMatchIsSuccess(t *testing.T) {
	app := newTestApp(&scoredOracle{scores: map[string]float64{"dog": 0.1}})
	resp, err := app.Test(multipartRequest(t, map[string]string{"preset": "Custom", "labels": "dog"}, "a.png", testPNG(t)))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	env := decode(t, resp)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"NO_CONFIDENT_MATCH"`)
}

func TestVoteKeepsCountsPerSession(t *testing.T) {
	app := newTestApp(&scoredOracle{})

	vote := func(cookie *http.Cookie, direction string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/api/labeler/v1/feedback",
			strings.NewReader(`{"label":"pizza","direction":"`+direction+`"}`))
		req.Header.Set("Content-Type", "application/json")
		if cookie != nil {
			req.AddCookie(cookie)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	resp := vote(nil, "up")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	cookie := sessionCookie(resp)
	require.NotNil(t, cookie)

	resp = vote(cookie, "up")
	env := decode(t, resp)
	assert.JSONEq(t, `{"label":"pizza","up":2,"down":0}`, string(env.Data))

	resp = vote(cookie, "sideways")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// A fresh session starts from zero.
	resp = vote(nil, "down")
	env = decode(t, resp)
	assert.JSONEq(t, `{"label":"pizza","up":0,"down":1}`, string(env.Data))
}

func TestEndSessionClearsCookie(t *testing.T) {
	app := newTestApp(&scoredOracle{})
	req := httptest.NewRequest(http.MethodDelete, "/api/labeler/v1/session", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "3f1c2a9e-6a8e-4f38-9d8f-2f4f6f7b7d11"})
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestPresetsAndHealth(t *testing.T) {
	app := newTestApp(&scoredOracle{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/labeler/v1/presets", nil))
	require.NoError(t, err)
	env := decode(t, resp)
	assert.Contains(t, string(env.Data), `"Custom"`)
	assert.Contains(t, string(env.Data), `"pizza"`)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.NoError(t, err)
	env = decode(t, resp)
	assert.Contains(t, string(env.Data), `"oracle_ready":true`)
}

func TestAuditRequiresAdminToken(t *testing.T) {
	app := newTestApp(&scoredOracle{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil)
	req.Header.Set("X-Admin-Token", "secret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

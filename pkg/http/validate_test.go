package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID string `json:"id" validate:"required"`
}

type batchRequest struct {
	Mode  string `query:"mode" default:"fast" validate:"oneof=fast slow"`
	Items []item `json:"items" validate:"required,min=1,dive"`
}

func bind(t *testing.T, method, target, body string) (*batchRequest, []ValidationError) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	r := &batchRequest{}
	return r, ReadAndValidateRequest(c, r)
}

func TestReadAndValidateRequestAppliesDefaults(t *testing.T) {
	r, verrs := bind(t, http.MethodPost, "/", `{"items":[{"id":"a"}]}`)
	require.Nil(t, verrs)
	assert.Equal(t, "fast", r.Mode)
	assert.Equal(t, "a", r.Items[0].ID)
}

func TestReadAndValidateRequestReportsJSONPaths(t *testing.T) {
	_, verrs := bind(t, http.MethodGet, "/?mode=warp", `{"items":[{"id":"a"},{}]}`)
	require.Len(t, verrs, 2)

	byField := map[string]ValidationError{}
	for _, v := range verrs {
		byField[v.Field] = v
	}
	assert.Equal(t, "ERR_ONEOF", byField["mode"].Code)
	assert.Equal(t, []string{"fast", "slow"}, byField["mode"].Params["options"])
	assert.Equal(t, "ERR_REQUIRED", byField["items[1].id"].Code)
	assert.Equal(t, "items[1].id is required", byField["items[1].id"].Message)
}

func TestReadAndValidateRequestBindFailure(t *testing.T) {
	_, verrs := bind(t, http.MethodPost, "/", `{"items":`)
	require.Len(t, verrs, 1)
	assert.Equal(t, "ERR_BIND", verrs[0].Code)
}

package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLarkServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, _ *http.Request) {
		writeLarkJSON(w, map[string]any{"code": 0, "msg": "ok", "tenant_access_token": "t-test", "expire": 7200})
	})
	for pattern, h := range handlers {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeLarkJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(body)
}

func TestLarkAPIListTables(t *testing.T) {
	t.Parallel()

	var gotAuth, gotPageSize string
	srv := newLarkServer(t, map[string]http.HandlerFunc{
		"/open-apis/bitable/v1/apps/AppTok/tables": func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotPageSize = r.URL.Query().Get("page_size")
			writeLarkJSON(w, map[string]any{
				"code": 0,
				"msg":  "success",
				"data": map[string]any{
					"has_more":   true,
					"page_token": "next",
					"items": []map[string]any{
						{"table_id": "tbl1", "name": "收藏", "revision": 1},
					},
				},
			})
		},
	})

	api := NewLarkAPI("cli_app", "secret", lark.WithOpenBaseUrl(srv.URL))
	tables, next, more, err := api.ListTables(context.Background(), "AppTok", "", 100)
	require.NoError(t, err)
	assert.Equal(t, []Table{{ID: "tbl1", Name: "收藏"}}, tables)
	assert.Equal(t, "next", next)
	assert.True(t, more)
	assert.Equal(t, "Bearer t-test", gotAuth)
	assert.Equal(t, "100", gotPageSize)
}

func TestLarkAPICreateRecordError(t *testing.T) {
	t.Parallel()

	srv := newLarkServer(t, map[string]http.HandlerFunc{
		"/open-apis/bitable/v1/apps/AppTok/tables/tbl1/records": func(w http.ResponseWriter, _ *http.Request) {
			writeLarkJSON(w, map[string]any{"code": 1254045, "msg": "FieldNameNotFound"})
		},
	})

	api := NewLarkAPI("cli_app", "secret", lark.WithOpenBaseUrl(srv.URL))
	_, err := api.CreateRecord(context.Background(), "AppTok", "tbl1", map[string]any{FieldSummary: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FieldNameNotFound")
}

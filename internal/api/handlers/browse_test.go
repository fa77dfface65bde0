package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongardhq/mongard/internal/models"
	"github.com/mongardhq/mongard/internal/mongoconn"
)

type mockBrowseRegistry struct {
	dbs   []mongoconn.DatabaseInfo
	colls []mongoconn.CollectionInfo
	count int64
	page  *mongoconn.DocumentPage
	aggs  []bson.M

	listDBErr error
	aggErr    error

	src           *mongoconn.Source
	includeCounts bool
	queryOpts     *mongoconn.QueryOptions
	collection    string
	pipeline      []bson.M
}

func (m *mockBrowseRegistry) ListDatabases(_ context.Context, src mongoconn.Source) ([]mongoconn.DatabaseInfo, error) {
	m.src = &src
	if m.listDBErr != nil {
		return nil, m.listDBErr
	}
	return m.dbs, nil
}

func (m *mockBrowseRegistry) ListCollections(_ context.Context, src mongoconn.Source, _ string, includeCounts bool) ([]mongoconn.CollectionInfo, error) {
	m.src = &src
	m.includeCounts = includeCounts
	return m.colls, nil
}

func (m *mockBrowseRegistry) CountDocuments(_ context.Context, src mongoconn.Source, _, _ string) (int64, error) {
	m.src = &src
	return m.count, nil
}

func (m *mockBrowseRegistry) GetDocuments(_ context.Context, src mongoconn.Source, _, _ string, q mongoconn.QueryOptions) (*mongoconn.DocumentPage, error) {
	m.src = &src
	m.queryOpts = &q
	if m.page == nil {
		return &mongoconn.DocumentPage{Documents: []bson.M{}}, nil
	}
	return m.page, nil
}

func (m *mockBrowseRegistry) RunAggregate(_ context.Context, src mongoconn.Source, _, collection string, pipeline []bson.M) ([]bson.M, error) {
	m.src = &src
	m.collection = collection
	m.pipeline = pipeline
	if m.aggErr != nil {
		return nil, m.aggErr
	}
	return m.aggs, nil
}

type mockTranslator struct {
	collection string
	pipeline   []bson.M
	err        error
}

func (m *mockTranslator) Translate(_ string) (string, []bson.M, error) {
	if m.err != nil {
		return "", nil, m.err
	}
	return m.collection, m.pipeline, nil
}

func setupBrowseTestRouter(registry *mockBrowseRegistry, translator QueryTranslator, user *models.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(injectUser(user))
	handler := NewBrowseHandler(registry, translator, zerolog.Nop())
	api := r.Group("/api/v1")
	handler.RegisterRoutes(api)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestBrowseDatabases(t *testing.T) {
	user := testUser()
	connID := uuid.New()
	orgID := uuid.New()

	t.Run("raw connection string", func(t *testing.T) {
		registry := &mockBrowseRegistry{dbs: []mongoconn.DatabaseInfo{{Name: "app"}}}
		r := setupBrowseTestRouter(registry, nil, user)
		w := postJSON(t, r, "/api/v1/databases", `{"connection_string":"mongodb://db:27017"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if registry.src.RawURI != "mongodb://db:27017" {
			t.Fatalf("expected raw URI forwarded, got %q", registry.src.RawURI)
		}
		if registry.src.ConnectionID != uuid.Nil {
			t.Fatal("expected no saved connection reference")
		}
	})

	t.Run("saved connection", func(t *testing.T) {
		registry := &mockBrowseRegistry{dbs: []mongoconn.DatabaseInfo{{Name: "app"}}}
		r := setupBrowseTestRouter(registry, nil, user)
		body := `{"connection_id":"` + connID.String() + `","organization_id":"` + orgID.String() + `"}`
		w := postJSON(t, r, "/api/v1/databases", body)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if registry.src.ConnectionID != connID || registry.src.OrgID != orgID {
			t.Fatal("expected saved connection reference forwarded")
		}
		if registry.src.UserID != user.ID {
			t.Fatal("expected caller recorded on the source")
		}
	})

	t.Run("bad scheme", func(t *testing.T) {
		r := setupBrowseTestRouter(&mockBrowseRegistry{}, nil, user)
		w := postJSON(t, r, "/api/v1/databases", `{"connection_string":"http://db"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		r := setupBrowseTestRouter(&mockBrowseRegistry{}, nil, user)
		w := postJSON(t, r, "/api/v1/databases", `{"connection_id":"`+connID.String()+`"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
		var resp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.Error != "connection_string or connection_id and organization_id required" {
			t.Fatalf("unexpected error message %q", resp.Error)
		}
	})

	t.Run("unreachable deployment", func(t *testing.T) {
		registry := &mockBrowseRegistry{listDBErr: mongoconn.ErrUnreachable}
		r := setupBrowseTestRouter(registry, nil, user)
		w := postJSON(t, r, "/api/v1/databases", `{"connection_string":"mongodb://db:27017"}`)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestBrowseCollections(t *testing.T) {
	user := testUser()

	t.Run("counts on by default", func(t *testing.T) {
		registry := &mockBrowseRegistry{colls: []mongoconn.CollectionInfo{{Name: "users"}}}
		r := setupBrowseTestRouter(registry, nil, user)
		w := postJSON(t, r, "/api/v1/collections", `{"connection_string":"mongodb://db:27017","database":"app"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if !registry.includeCounts {
			t.Fatal("expected counts to default on")
		}
	})

	t.Run("counts can be skipped", func(t *testing.T) {
		registry := &mockBrowseRegistry{}
		r := setupBrowseTestRouter(registry, nil, user)
		w := postJSON(t, r, "/api/v1/collections", `{"connection_string":"mongodb://db:27017","database":"app","include_counts":false}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if registry.includeCounts {
			t.Fatal("expected counts to be skipped")
		}
	})

	t.Run("missing database", func(t *testing.T) {
		r := setupBrowseTestRouter(&mockBrowseRegistry{}, nil, user)
		w := postJSON(t, r, "/api/v1/collections", `{"connection_string":"mongodb://db:27017"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestCollectionCount(t *testing.T) {
	user := testUser()

	t.Run("success", func(t *testing.T) {
		registry := &mockBrowseRegistry{count: 42}
		r := setupBrowseTestRouter(registry, nil, user)
		w := postJSON(t, r, "/api/v1/collections/count", `{"connection_string":"mongodb://db:27017","database":"app","collection":"users"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp struct {
			Count int64 `json:"count"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.Count != 42 {
			t.Fatalf("expected count 42, got %d", resp.Count)
		}
	})

	t.Run("missing collection", func(t *testing.T) {
		r := setupBrowseTestRouter(&mockBrowseRegistry{}, nil, user)
		w := postJSON(t, r, "/api/v1/collections/count", `{"connection_string":"mongodb://db:27017","database":"app"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestBrowseDocuments(t *testing.T) {
	user := testUser()
	page := &mongoconn.DocumentPage{Documents: []bson.M{{"name": "ada"}}, Total: 1}

	t.Run("limit defaults", func(t *testing.T) {
		registry := &mockBrowseRegistry{page: page}
		r := setupBrowseTestRouter(registry, nil, user)
		w := postJSON(t, r, "/api/v1/documents", `{"connection_string":"mongodb://db:27017","database":"app","collection":"users"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if registry.queryOpts.Limit != defaultPageLimit {
			t.Fatalf("expected default limit %d, got %d", defaultPageLimit, registry.queryOpts.Limit)
		}
	})

	t.Run("limit is capped", func(t *testing.T) {
		registry := &mockBrowseRegistry{page: page}
		r := setupBrowseTestRouter(registry, nil, user)
		w := postJSON(t, r, "/api/v1/documents", `{"connection_string":"mongodb://db:27017","database":"app","collection":"users","limit":9999}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if registry.queryOpts.Limit != maxPageLimit {
			t.Fatalf("expected limit capped at %d, got %d", maxPageLimit, registry.queryOpts.Limit)
		}
	})

	t.Run("negative skip is zeroed", func(t *testing.T) {
		registry := &mockBrowseRegistry{page: page}
		r := setupBrowseTestRouter(registry, nil, user)
		w := postJSON(t, r, "/api/v1/documents", `{"connection_string":"mongodb://db:27017","database":"app","collection":"users","skip":-10}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if registry.queryOpts.Skip != 0 {
			t.Fatalf("expected skip 0, got %d", registry.queryOpts.Skip)
		}
	})
}

func TestBrowseQuery(t *testing.T) {
	user := testUser()

	t.Run("filter and sort are forwarded", func(t *testing.T) {
		registry := &mockBrowseRegistry{page: &mongoconn.DocumentPage{Documents: []bson.M{}, Total: 0}}
		r := setupBrowseTestRouter(registry, nil, user)
		body := `{"connection_string":"mongodb://db:27017","database":"app","collection":"users","filter":{"active":true},"sort":{"name":-1}}`
		w := postJSON(t, r, "/api/v1/query", body)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if registry.queryOpts.Filter["active"] != true {
			t.Fatal("expected filter forwarded")
		}
		if len(registry.queryOpts.Sort) != 1 || registry.queryOpts.Sort[0].Key != "name" || registry.queryOpts.Sort[0].Value != -1 {
			t.Fatalf("expected sort forwarded, got %v", registry.queryOpts.Sort)
		}
	})

	t.Run("pipeline takes the aggregation path", func(t *testing.T) {
		registry := &mockBrowseRegistry{aggs: []bson.M{{"_id": "a", "n": 3}}}
		r := setupBrowseTestRouter(registry, nil, user)
		body := `{"connection_string":"mongodb://db:27017","database":"app","collection":"users","pipeline":[{"$match":{"active":true}}]}`
		w := postJSON(t, r, "/api/v1/query", body)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if len(registry.pipeline) != 1 {
			t.Fatalf("expected one pipeline stage, got %d", len(registry.pipeline))
		}
		var resp struct {
			Total int64 `json:"total"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.Total != 1 {
			t.Fatalf("expected total 1, got %d", resp.Total)
		}
	})

	t.Run("missing collection", func(t *testing.T) {
		r := setupBrowseTestRouter(&mockBrowseRegistry{}, nil, user)
		w := postJSON(t, r, "/api/v1/query", `{"connection_string":"mongodb://db:27017","database":"app"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestSQLQuery(t *testing.T) {
	user := testUser()

	t.Run("translator disabled", func(t *testing.T) {
		r := setupBrowseTestRouter(&mockBrowseRegistry{}, nil, user)
		w := postJSON(t, r, "/api/v1/sql-query", `{"connection_string":"mongodb://db:27017","database":"app","query":"SELECT * FROM users"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
		var resp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.Error != "sql translation is not available in this build" {
			t.Fatalf("unexpected error message %q", resp.Error)
		}
	})

	t.Run("success", func(t *testing.T) {
		registry := &mockBrowseRegistry{aggs: []bson.M{{"name": "ada"}}}
		translator := &mockTranslator{collection: "users", pipeline: []bson.M{{"$match": bson.M{}}}}
		r := setupBrowseTestRouter(registry, translator, user)
		w := postJSON(t, r, "/api/v1/sql-query", `{"connection_string":"mongodb://db:27017","database":"app","query":"SELECT * FROM users"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if registry.collection != "users" {
			t.Fatalf("expected translated collection, got %q", registry.collection)
		}
	})

	t.Run("translate error", func(t *testing.T) {
		translator := &mockTranslator{err: errBoom}
		r := setupBrowseTestRouter(&mockBrowseRegistry{}, translator, user)
		w := postJSON(t, r, "/api/v1/sql-query", `{"connection_string":"mongodb://db:27017","database":"app","query":"DROP TABLE users"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "cannot translate query") {
			t.Fatalf("expected translate error message, got %s", w.Body.String())
		}
	})

	t.Run("missing query", func(t *testing.T) {
		r := setupBrowseTestRouter(&mockBrowseRegistry{}, &mockTranslator{}, user)
		w := postJSON(t, r, "/api/v1/sql-query", `{"connection_string":"mongodb://db:27017","database":"app"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestClampLimit(t *testing.T) {
	cases := []struct {
		in   int64
		want int64
	}{
		{0, defaultPageLimit},
		{-5, defaultPageLimit},
		{1, 1},
		{maxPageLimit, maxPageLimit},
		{maxPageLimit + 1, maxPageLimit},
	}
	for _, tc := range cases {
		if got := clampLimit(tc.in); got != tc.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSortSpec(t *testing.T) {
	t.Run("empty map", func(t *testing.T) {
		if spec := sortSpec(nil); spec != nil {
			t.Fatalf("expected nil, got %v", spec)
		}
	})

	t.Run("fields sort by name", func(t *testing.T) {
		spec := sortSpec(map[string]int{"b": -1, "a": 1, "c": 0})
		if len(spec) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(spec))
		}
		if spec[0].Key != "a" || spec[1].Key != "b" || spec[2].Key != "c" {
			t.Fatalf("expected alphabetical keys, got %v", spec)
		}
		if spec[0].Value != 1 || spec[1].Value != -1 || spec[2].Value != 1 {
			t.Fatalf("expected normalized directions, got %v", spec)
		}
	})
}

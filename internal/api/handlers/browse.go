package handlers

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongardhq/mongard/internal/api/middleware"
	"github.com/mongardhq/mongard/internal/mongoconn"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 500
)

// BrowseRegistry is the connection surface the browse handler needs.
// Satisfied by *mongoconn.Registry.
type BrowseRegistry interface {
	ListDatabases(ctx context.Context, src mongoconn.Source) ([]mongoconn.DatabaseInfo, error)
	ListCollections(ctx context.Context, src mongoconn.Source, database string, includeCounts bool) ([]mongoconn.CollectionInfo, error)
	CountDocuments(ctx context.Context, src mongoconn.Source, database, collection string) (int64, error)
	GetDocuments(ctx context.Context, src mongoconn.Source, database, collection string, q mongoconn.QueryOptions) (*mongoconn.DocumentPage, error)
	RunAggregate(ctx context.Context, src mongoconn.Source, database, collection string, pipeline []bson.M) ([]bson.M, error)
}

// QueryTranslator turns a SQL statement into a MongoDB aggregation. The
// default build ships without one; installs that want SQL browsing plug
// their own in.
type QueryTranslator interface {
	Translate(query string) (collection string, pipeline []bson.M, err error)
}

// BrowseHandler serves ad-hoc browsing of MongoDB deployments: database and
// collection listings, document pages and aggregations. Every endpoint
// accepts either a raw connection string or a saved connection reference;
// saved connections go through the permission gate, raw strings do not.
type BrowseHandler struct {
	registry   BrowseRegistry
	translator QueryTranslator
	logger     zerolog.Logger
}

// NewBrowseHandler creates a BrowseHandler. A nil translator disables
// /sql-query with a stable validation error.
func NewBrowseHandler(registry BrowseRegistry, translator QueryTranslator, logger zerolog.Logger) *BrowseHandler {
	return &BrowseHandler{
		registry:   registry,
		translator: translator,
		logger:     logger.With().Str("component", "api.browse").Logger(),
	}
}

// RegisterRoutes mounts the browse endpoints on an authenticated group.
func (h *BrowseHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/databases", h.Databases)
	r.POST("/collections", h.Collections)
	r.POST("/collections/count", h.CollectionCount)
	r.POST("/documents", h.Documents)
	r.POST("/query", h.Query)
	r.POST("/sql-query", h.SQLQuery)
}

// browseSource is the shared source selector embedded in every browse
// request body.
type browseSource struct {
	ConnectionString string    `json:"connection_string"`
	ConnectionID     uuid.UUID `json:"connection_id"`
	OrganizationID   uuid.UUID `json:"organization_id"`
}

// source resolves the request's source selector. Returns false when it
// already responded with a validation error.
func (h *BrowseHandler) source(c *gin.Context, req browseSource) (mongoconn.Source, bool) {
	user := middleware.RequireUser(c)
	if user == nil {
		return mongoconn.Source{}, false
	}
	if req.ConnectionString != "" {
		if !validConnectionString(req.ConnectionString) {
			respondValidation(c, "connection string must start with mongodb:// or mongodb+srv://")
			return mongoconn.Source{}, false
		}
		return mongoconn.Source{UserID: user.ID, RawURI: req.ConnectionString}, true
	}
	if req.ConnectionID == uuid.Nil || req.OrganizationID == uuid.Nil {
		respondValidation(c, "connection_string or connection_id and organization_id required")
		return mongoconn.Source{}, false
	}
	return mongoconn.Source{
		UserID:       user.ID,
		OrgID:        req.OrganizationID,
		ConnectionID: req.ConnectionID,
	}, true
}

type databasesRequest struct {
	browseSource
}

// Databases lists the deployment's databases.
//
//	@Summary	List databases
//	@Tags		browse
//	@Accept		json
//	@Produce	json
//	@Param		request	body	handlers.databasesRequest	true	"Source"
//	@Success	200	{object}	map[string]any
//	@Failure	400	{object}	map[string]any
//	@Router		/databases [post]
//	@Security	BearerAuth
func (h *BrowseHandler) Databases(c *gin.Context) {
	var req databasesRequest
	if !bindJSON(c, &req) {
		return
	}
	src, ok := h.source(c, req.browseSource)
	if !ok {
		return
	}
	dbs, err := h.registry.ListDatabases(c.Request.Context(), src)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"databases": dbs})
}

type collectionsRequest struct {
	browseSource
	Database      string `json:"database"`
	IncludeCounts *bool  `json:"include_counts"`
}

// Collections lists a database's collections. Counts are exact and on by
// default; include_counts=false skips them for speed.
func (h *BrowseHandler) Collections(c *gin.Context) {
	var req collectionsRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Database == "" {
		respondValidation(c, "database is required")
		return
	}
	src, ok := h.source(c, req.browseSource)
	if !ok {
		return
	}
	includeCounts := req.IncludeCounts == nil || *req.IncludeCounts
	colls, err := h.registry.ListCollections(c.Request.Context(), src, req.Database, includeCounts)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"collections": colls})
}

type collectionCountRequest struct {
	browseSource
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

// CollectionCount returns the exact document count of one collection.
func (h *BrowseHandler) CollectionCount(c *gin.Context) {
	var req collectionCountRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Database == "" || req.Collection == "" {
		respondValidation(c, "database and collection are required")
		return
	}
	src, ok := h.source(c, req.browseSource)
	if !ok {
		return
	}
	count, err := h.registry.CountDocuments(c.Request.Context(), src, req.Database, req.Collection)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"count": count})
}

type documentsRequest struct {
	browseSource
	Database   string `json:"database"`
	Collection string `json:"collection"`
	Limit      int64  `json:"limit"`
	Skip       int64  `json:"skip"`
}

// Documents returns one unfiltered page of documents.
func (h *BrowseHandler) Documents(c *gin.Context) {
	var req documentsRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Database == "" || req.Collection == "" {
		respondValidation(c, "database and collection are required")
		return
	}
	src, ok := h.source(c, req.browseSource)
	if !ok {
		return
	}
	page, err := h.registry.GetDocuments(c.Request.Context(), src, req.Database, req.Collection, mongoconn.QueryOptions{
		Limit: clampLimit(req.Limit),
		Skip:  max(req.Skip, 0),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"documents": page.Documents, "total": page.Total})
}

type queryRequest struct {
	browseSource
	Database   string           `json:"database"`
	Collection string           `json:"collection"`
	Filter     map[string]any   `json:"filter"`
	Sort       map[string]int   `json:"sort"`
	Pipeline   []map[string]any `json:"pipeline"`
	Limit      int64            `json:"limit"`
	Skip       int64            `json:"skip"`
}

// Query runs a filtered find, or an aggregation when a pipeline is given.
//
//	@Summary	Query documents
//	@Tags		browse
//	@Accept		json
//	@Produce	json
//	@Param		request	body	handlers.queryRequest	true	"Query"
//	@Success	200	{object}	map[string]any
//	@Failure	400	{object}	map[string]any
//	@Router		/query [post]
//	@Security	BearerAuth
func (h *BrowseHandler) Query(c *gin.Context) {
	var req queryRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Database == "" || req.Collection == "" {
		respondValidation(c, "database and collection are required")
		return
	}
	src, ok := h.source(c, req.browseSource)
	if !ok {
		return
	}

	if len(req.Pipeline) > 0 {
		pipeline := make([]bson.M, len(req.Pipeline))
		for i, stage := range req.Pipeline {
			pipeline[i] = bson.M(stage)
		}
		results, err := h.registry.RunAggregate(c.Request.Context(), src, req.Database, req.Collection, pipeline)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		respond(c, http.StatusOK, gin.H{"documents": results, "total": int64(len(results))})
		return
	}

	page, err := h.registry.GetDocuments(c.Request.Context(), src, req.Database, req.Collection, mongoconn.QueryOptions{
		Filter: bson.M(req.Filter),
		Sort:   sortSpec(req.Sort),
		Limit:  clampLimit(req.Limit),
		Skip:   max(req.Skip, 0),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"documents": page.Documents, "total": page.Total})
}

type sqlQueryRequest struct {
	browseSource
	Database string `json:"database"`
	Query    string `json:"query"`
}

// SQLQuery translates a SQL statement and runs it as an aggregation.
// Without a translator installed the endpoint reports a stable validation
// error.
func (h *BrowseHandler) SQLQuery(c *gin.Context) {
	var req sqlQueryRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Query == "" {
		respondValidation(c, "query is required")
		return
	}
	if req.Database == "" {
		respondValidation(c, "database is required")
		return
	}
	if h.translator == nil {
		respondValidation(c, "sql translation is not available in this build")
		return
	}
	src, ok := h.source(c, req.browseSource)
	if !ok {
		return
	}

	collection, pipeline, err := h.translator.Translate(req.Query)
	if err != nil {
		respondValidation(c, "cannot translate query: "+err.Error())
		return
	}
	results, err := h.registry.RunAggregate(c.Request.Context(), src, req.Database, collection, pipeline)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"documents": results, "total": int64(len(results))})
}

// clampLimit applies the default and the cap to a requested page size.
func clampLimit(limit int64) int64 {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

// sortSpec converts a field-to-direction map into a deterministic sort
// document. JSON objects carry no order, so fields sort by name.
func sortSpec(fields map[string]int) bson.D {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	spec := make(bson.D, 0, len(keys))
	for _, k := range keys {
		dir := 1
		if fields[k] < 0 {
			dir = -1
		}
		spec = append(spec, bson.E{Key: k, Value: dir})
	}
	return spec
}

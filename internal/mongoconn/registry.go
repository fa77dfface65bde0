// Package mongoconn resolves saved connections to live, pooled MongoDB
// clients and offers the read helpers the browse API is built on.
package mongoconn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/mongardhq/mongard/internal/auth"
	"github.com/mongardhq/mongard/internal/models"
)

// Errors surfaced by the registry beyond what the stores and the vault
// already return.
var (
	ErrUnreachable = errors.New("mongodb deployment unreachable")
	ErrTimeout     = errors.New("mongodb operation timed out")
)

// Config tunes the pooled clients.
type Config struct {
	// MaxPoolSize caps connections per deployment client.
	MaxPoolSize uint64
	// ServerSelectionTimeout bounds topology discovery.
	ServerSelectionTimeout time.Duration
	// SocketTimeout bounds individual socket reads and writes.
	SocketTimeout time.Duration
}

// DefaultConfig returns the stock client tuning.
func DefaultConfig() Config {
	return Config{
		MaxPoolSize:            10,
		ServerSelectionTimeout: 5 * time.Second,
		SocketTimeout:          45 * time.Second,
	}
}

// ConnectionStore loads saved connections. Satisfied by *db.DB.
type ConnectionStore interface {
	GetConnectionByID(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	UpdateConnectionHealth(ctx context.Context, conn *models.Connection) error
}

// AccessChecker gates resolution on the tenancy predicates. Satisfied by
// *auth.Tenancy.
type AccessChecker interface {
	RequireConnectionAccess(ctx context.Context, userID, connectionID, orgID uuid.UUID) error
}

// Decrypter recovers the plaintext URI. Satisfied by *crypto.Vault.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Registry hands out pooled MongoDB clients for saved connections. Clients
// are keyed by plaintext URI so two saved connections against the same
// deployment share one pool. Every lookup goes through the tenancy check,
// the org scope check and a liveness probe; a failed probe evicts the pool
// entry and reconnects once before giving up.
type Registry struct {
	config Config
	store  ConnectionStore
	access AccessChecker
	vault  Decrypter
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[string]*mongo.Client
}

// NewRegistry creates a Registry with the given tuning.
func NewRegistry(store ConnectionStore, access AccessChecker, vault Decrypter, cfg Config, logger zerolog.Logger) *Registry {
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = DefaultConfig().MaxPoolSize
	}
	if cfg.ServerSelectionTimeout <= 0 {
		cfg.ServerSelectionTimeout = DefaultConfig().ServerSelectionTimeout
	}
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = DefaultConfig().SocketTimeout
	}
	return &Registry{
		config:  cfg,
		store:   store,
		access:  access,
		vault:   vault,
		logger:  logger.With().Str("component", "mongoconn").Logger(),
		clients: make(map[string]*mongo.Client),
	}
}

// Resolve authorizes the caller, decrypts the saved URI and returns a live
// client plus the connection record. The access check runs before the row
// is even loaded, so denial never reveals whether the connection exists.
func (r *Registry) Resolve(ctx context.Context, userID, orgID, connectionID uuid.UUID) (*mongo.Client, *models.Connection, error) {
	if err := r.access.RequireConnectionAccess(ctx, userID, connectionID, orgID); err != nil {
		return nil, nil, err
	}

	conn, err := r.store.GetConnectionByID(ctx, connectionID)
	if err != nil {
		return nil, nil, err
	}
	if conn.OrganizationID != orgID {
		return nil, nil, auth.ErrPermissionDenied
	}

	uri, err := r.vault.Decrypt(conn.EncryptedURI)
	if err != nil {
		return nil, nil, err
	}

	client, err := r.liveClient(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	return client, conn, nil
}

// liveClient returns a pinged client for the URI, reconnecting once after
// evicting a dead pool entry.
func (r *Registry) liveClient(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := r.clientFor(ctx, uri)
	if err != nil {
		return nil, wrapConnectErr(err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		r.logger.Warn().Err(err).Msg("ping failed, evicting pooled client")
		r.evict(uri)

		client, err = r.clientFor(ctx, uri)
		if err != nil {
			return nil, wrapConnectErr(err)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			r.evict(uri)
			return nil, wrapConnectErr(err)
		}
	}
	return client, nil
}

// clientFor returns the pooled client for the URI, dialing on first use.
func (r *Registry) clientFor(ctx context.Context, uri string) (*mongo.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[uri]; ok {
		return client, nil
	}

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(r.config.MaxPoolSize).
		SetServerSelectionTimeout(r.config.ServerSelectionTimeout).
		SetSocketTimeout(r.config.SocketTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	r.clients[uri] = client
	r.logger.Debug().Int("pooled_clients", len(r.clients)).Msg("dialed new mongodb client")
	return client, nil
}

// evict disconnects and forgets the pooled client for the URI.
func (r *Registry) evict(uri string) {
	r.mu.Lock()
	client, ok := r.clients[uri]
	if ok {
		delete(r.clients, uri)
	}
	r.mu.Unlock()

	if ok {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			r.logger.Warn().Err(err).Msg("failed to disconnect evicted client")
		}
	}
}

// Close disconnects every pooled client.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*mongo.Client)
	r.mu.Unlock()

	for _, client := range clients {
		if err := client.Disconnect(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("failed to disconnect pooled client")
		}
	}
}

// wrapConnectErr maps driver failures onto the registry's error taxonomy.
func wrapConnectErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Source selects the deployment a browse call runs against: a saved
// connection authorized through the tenancy predicates, or a raw URI the
// caller typed in for unsaved exploration. RawURI wins when both are set.
// Raw URIs skip the permission gate on purpose, the caller already holds
// the credentials embedded in the URI.
type Source struct {
	UserID       uuid.UUID
	OrgID        uuid.UUID
	ConnectionID uuid.UUID
	RawURI       string
}

// resolveSource returns a live client for the source.
func (r *Registry) resolveSource(ctx context.Context, src Source) (*mongo.Client, error) {
	if src.RawURI != "" {
		return r.liveClient(ctx, src.RawURI)
	}
	client, _, err := r.Resolve(ctx, src.UserID, src.OrgID, src.ConnectionID)
	return client, err
}

// DatabaseInfo describes one database on a deployment.
type DatabaseInfo struct {
	Name       string `json:"name"`
	SizeOnDisk int64  `json:"size_on_disk"`
	Empty      bool   `json:"empty"`
}

// CollectionInfo describes one collection. DocumentCount is nil when counts
// were not requested.
type CollectionInfo struct {
	Name          string `json:"name"`
	DocumentCount *int64 `json:"document_count"`
}

// QueryOptions shape a document read.
type QueryOptions struct {
	Filter bson.M
	Sort   bson.D
	Limit  int64
	Skip   int64
}

// DocumentPage is one page of documents plus the exact total for the filter.
type DocumentPage struct {
	Documents []bson.M `json:"documents"`
	Total     int64    `json:"total"`
}

// ListDatabases returns the deployment's databases, sorted by name.
func (r *Registry) ListDatabases(ctx context.Context, src Source) ([]DatabaseInfo, error) {
	client, err := r.resolveSource(ctx, src)
	if err != nil {
		return nil, err
	}

	result, err := client.ListDatabases(ctx, bson.D{})
	if err != nil {
		return nil, wrapConnectErr(err)
	}

	infos := make([]DatabaseInfo, 0, len(result.Databases))
	for _, db := range result.Databases {
		infos = append(infos, DatabaseInfo{
			Name:       db.Name,
			SizeOnDisk: db.SizeOnDisk,
			Empty:      db.Empty,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// ListCollections returns the database's collections sorted by name. With
// includeCounts the counts are exact; without, they are nil so callers can
// skip the scan cost.
func (r *Registry) ListCollections(ctx context.Context, src Source, database string, includeCounts bool) ([]CollectionInfo, error) {
	client, err := r.resolveSource(ctx, src)
	if err != nil {
		return nil, err
	}

	names, err := client.Database(database).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, wrapConnectErr(err)
	}
	sort.Strings(names)

	infos := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		info := CollectionInfo{Name: name}
		if includeCounts {
			count, err := client.Database(database).Collection(name).CountDocuments(ctx, bson.D{})
			if err != nil {
				return nil, wrapConnectErr(err)
			}
			info.DocumentCount = &count
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// CountDocuments returns the exact document count for a single collection.
func (r *Registry) CountDocuments(ctx context.Context, src Source, database, collection string) (int64, error) {
	client, err := r.resolveSource(ctx, src)
	if err != nil {
		return 0, err
	}

	count, err := client.Database(database).Collection(collection).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, wrapConnectErr(err)
	}
	return count, nil
}

// GetDocuments reads one page of documents with the exact filtered total.
func (r *Registry) GetDocuments(ctx context.Context, src Source, database, collection string, q QueryOptions) (*DocumentPage, error) {
	client, err := r.resolveSource(ctx, src)
	if err != nil {
		return nil, err
	}

	coll := client.Database(database).Collection(collection)

	filter := q.Filter
	if filter == nil {
		filter = bson.M{}
	}

	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, wrapConnectErr(err)
	}

	findOpts := options.Find()
	if q.Limit > 0 {
		findOpts.SetLimit(q.Limit)
	}
	if q.Skip > 0 {
		findOpts.SetSkip(q.Skip)
	}
	if len(q.Sort) > 0 {
		findOpts.SetSort(q.Sort)
	}

	cursor, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, wrapConnectErr(err)
	}
	defer cursor.Close(ctx)

	documents := make([]bson.M, 0)
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, wrapConnectErr(err)
	}

	return &DocumentPage{Documents: documents, Total: total}, nil
}

// RunAggregate executes an aggregation pipeline and returns all results.
func (r *Registry) RunAggregate(ctx context.Context, src Source, database, collection string, pipeline []bson.M) ([]bson.M, error) {
	client, err := r.resolveSource(ctx, src)
	if err != nil {
		return nil, err
	}

	cursor, err := client.Database(database).Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrapConnectErr(err)
	}
	defer cursor.Close(ctx)

	results := make([]bson.M, 0)
	if err := cursor.All(ctx, &results); err != nil {
		return nil, wrapConnectErr(err)
	}
	return results, nil
}

// Test pings the deployment, records the health outcome on the connection
// row and returns the probe result with the database listing on success.
// Auth, row and decryption errors propagate; probe failures come back as an
// unsuccessful result.
func (r *Registry) Test(ctx context.Context, userID, orgID, connectionID uuid.UUID) (*models.ConnectionTestResult, error) {
	if err := r.access.RequireConnectionAccess(ctx, userID, connectionID, orgID); err != nil {
		return nil, err
	}

	conn, err := r.store.GetConnectionByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.OrganizationID != orgID {
		return nil, auth.ErrPermissionDenied
	}

	uri, err := r.vault.Decrypt(conn.EncryptedURI)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &models.ConnectionTestResult{ConnectionID: connectionID}

	client, err := r.liveClient(ctx, uri)
	if err != nil {
		result.ResponseTime = time.Since(start)
		result.ErrorMessage = err.Error()
		r.recordHealth(ctx, conn, err)
		return result, nil
	}
	result.ResponseTime = time.Since(start)

	dbs, err := client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		result.ErrorMessage = wrapConnectErr(err).Error()
		r.recordHealth(ctx, conn, err)
		return result, nil
	}

	sort.Strings(dbs)
	result.Success = true
	result.Databases = dbs
	r.recordHealth(ctx, conn, nil)
	return result, nil
}

// recordHealth persists the probe outcome, best effort.
func (r *Registry) recordHealth(ctx context.Context, conn *models.Connection, probeErr error) {
	if probeErr != nil {
		conn.MarkUnhealthy(probeErr.Error())
	} else {
		conn.MarkHealthy()
	}
	if err := r.store.UpdateConnectionHealth(ctx, conn); err != nil {
		r.logger.Warn().Err(err).
			Str("connection_id", conn.ID.String()).
			Msg("failed to record connection health")
	}
}

package backup

import (
	"archive/zip"
	"bufio"
	"compress/flate"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// collectionBatchSize is the cursor batch size while dumping.
	collectionBatchSize = 1000

	// archiveTimestampLayout stamps archive names in UTC. Colons are
	// avoided so the name survives every destination backend.
	archiveTimestampLayout = "2006-01-02T15-04-05Z"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sanitizeNameComponent replaces every character outside [A-Za-z0-9_-]
// with an underscore so connection and database names are safe as path
// segments on any backend.
func sanitizeNameComponent(s string) string {
	return unsafeNameChars.ReplaceAllString(s, "_")
}

// archiveObjectPath computes the destination object key for a backup.
func archiveObjectPath(connectionName, databaseName string, startedAt time.Time) string {
	conn := sanitizeNameComponent(connectionName)
	dbName := sanitizeNameComponent(databaseName)
	stamp := startedAt.UTC().Format(archiveTimestampLayout)
	return fmt.Sprintf("backup/%s/%s/backup_%s_%s_%s.zip", conn, dbName, conn, dbName, stamp)
}

// documentSource abstracts the database being dumped so archive assembly
// can be exercised without a live server.
type documentSource interface {
	// collections lists collection names in the database.
	collections(ctx context.Context) ([]string, error)

	// dumpCollection streams one collection into a JSON array staged in
	// dir and returns the staged file's path. The caller removes it.
	dumpCollection(ctx context.Context, name, dir string) (string, error)
}

// mongoSource dumps collections from a live database handle.
type mongoSource struct {
	db *mongo.Database
}

func newMongoSource(db *mongo.Database) *mongoSource {
	return &mongoSource{db: db}
}

func (m *mongoSource) collections(ctx context.Context) ([]string, error) {
	names, err := m.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}

// dumpCollection writes every document, sorted by _id, as one JSON array.
// Documents are rendered as relaxed extended JSON so types like dates and
// ObjectIds survive the round trip.
func (m *mongoSource) dumpCollection(ctx context.Context, name, dir string) (string, error) {
	f, err := os.CreateTemp(dir, "mongard-coll-*.json")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	path := f.Name()

	fail := func(err error) (string, error) {
		f.Close()
		os.Remove(path)
		return "", err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetBatchSize(collectionBatchSize)
	cur, err := m.db.Collection(name).Find(ctx, bson.D{}, opts)
	if err != nil {
		return fail(fmt.Errorf("query collection %s: %w", name, err))
	}
	defer cur.Close(ctx)

	w := bufio.NewWriter(f)
	if err := w.WriteByte('['); err != nil {
		return fail(fmt.Errorf("write staging file: %w", err))
	}
	first := true
	for cur.Next(ctx) {
		doc, err := bson.MarshalExtJSON(cur.Current, false, false)
		if err != nil {
			return fail(fmt.Errorf("encode document in %s: %w", name, err))
		}
		if !first {
			if err := w.WriteByte(','); err != nil {
				return fail(fmt.Errorf("write staging file: %w", err))
			}
		}
		if _, err := w.Write(doc); err != nil {
			return fail(fmt.Errorf("write staging file: %w", err))
		}
		first = false
	}
	if err := cur.Err(); err != nil {
		return fail(fmt.Errorf("read collection %s: %w", name, err))
	}
	if err := w.WriteByte(']'); err != nil {
		return fail(fmt.Errorf("write staging file: %w", err))
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("flush staging file: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close staging file: %w", err)
	}
	return path, nil
}

// targetCollections resolves the collections a run should dump. An explicit
// selection wins; otherwise every collection except the system ones.
func targetCollections(ctx context.Context, src documentSource, requested []string) ([]string, error) {
	var names []string
	if len(requested) > 0 {
		names = append(names, requested...)
	} else {
		all, err := src.collections(ctx)
		if err != nil {
			return nil, err
		}
		for _, name := range all {
			if strings.HasPrefix(name, "system.") {
				continue
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// archiveResult describes an assembled backup archive.
type archiveResult struct {
	// path is the staged zip. The caller removes it after upload.
	path      string
	sizeBytes int64

	// clean lists collections archived without error, in archive order.
	clean []string

	// failed maps collection name to the error that replaced its dump.
	failed map[string]string
}

// ok reports whether the run counts as successful: at least one collection
// archived cleanly.
func (r *archiveResult) ok() bool {
	return len(r.clean) > 0
}

// assembleArchive dumps each collection and zips the results into a single
// staged archive. A collection that fails to dump gets a JSON error entry
// instead of its data and the assembly continues.
func assembleArchive(ctx context.Context, src documentSource, collections []string, dir string, logger zerolog.Logger) (*archiveResult, error) {
	f, err := os.CreateTemp(dir, "mongard-backup-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create archive file: %w", err)
	}
	path := f.Name()

	fail := func(err error) (*archiveResult, error) {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	result := &archiveResult{path: path, failed: make(map[string]string)}
	for _, name := range collections {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		entry, err := zw.Create(name + ".json")
		if err != nil {
			return fail(fmt.Errorf("create archive entry %s: %w", name, err))
		}

		staged, err := src.dumpCollection(ctx, name, dir)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fail(ctxErr)
			}
			logger.Warn().
				Err(err).
				Str("collection", name).
				Msg("Collection dump failed, archiving error entry")
			payload, merr := json.Marshal(map[string]string{"error": err.Error()})
			if merr != nil {
				return fail(fmt.Errorf("encode error entry %s: %w", name, merr))
			}
			if _, werr := entry.Write(payload); werr != nil {
				return fail(fmt.Errorf("write error entry %s: %w", name, werr))
			}
			result.failed[name] = err.Error()
			continue
		}

		err = copyStaged(entry, staged)
		os.Remove(staged)
		if err != nil {
			return fail(fmt.Errorf("archive collection %s: %w", name, err))
		}
		result.clean = append(result.clean, name)
	}

	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("finalize archive: %w", err))
	}
	info, err := f.Stat()
	if err != nil {
		return fail(fmt.Errorf("stat archive: %w", err))
	}
	result.sizeBytes = info.Size()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return result, nil
}

func copyStaged(dst io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/muchaco/council/agent/conductor"
	"github.com/muchaco/council/config"
	"github.com/muchaco/council/types"
)

// documentVersion 随文档结构变化递增
const documentVersion = 1

// document is the stored shape of one archived session, keyed by session id.
type document struct {
	conductor.ArchivedSession `bson:",inline"`

	ID         string    `bson:"_id"`
	Version    int       `bson:"version"`
	ExportedAt time.Time `bson:"exported_at"`
}

// documentStore is the slice of a collection the sink needs.
type documentStore interface {
	upsert(ctx context.Context, doc *document) error
	find(ctx context.Context, id string) (*document, error)
	list(ctx context.Context, limit int64) ([]document, error)
}

var errNoDocument = errors.New("archive document not found")

// =============================================================================
// MongoSink
// =============================================================================

// MongoSink exports archived sessions to a MongoDB collection. Re-archiving
// a session replaces its previous document.
type MongoSink struct {
	client  *mongo.Client
	store   documentStore
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewMongoSink connects to cfg.MongoURI, pings the primary and ensures the
// collection indexes.
func NewMongoSink(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*MongoSink, error) {
	if cfg.MongoURI == "" {
		return nil, types.NewConfigurationError("archive.mongo_uri is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.MongoURI).
		SetAppName("council").
		SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	if err := ensureIndexes(pingCtx, coll); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	sink := newSink(&mongoCollection{coll: coll}, timeout, logger)
	sink.client = client
	sink.logger.Info("archive sink connected",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection))
	return sink, nil
}

func newSink(store documentStore, timeout time.Duration, logger *zap.Logger) *MongoSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoSink{
		store:   store,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "archive")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func ensureIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "archived_at", Value: -1}}},
		{Keys: bson.D{{Key: "session.status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create archive indexes: %w", err)
	}
	return nil
}

// Export implements conductor.ArchiveSink.
func (s *MongoSink) Export(ctx context.Context, a *conductor.ArchivedSession) error {
	if a == nil || a.Session == nil {
		return types.NewValidationError("archived session is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := &document{
		ID:              a.Session.ID,
		Version:         documentVersion,
		ExportedAt:      s.now(),
		ArchivedSession: *a,
	}
	if err := s.store.upsert(ctx, doc); err != nil {
		return types.NewPersistenceError("export archive", err)
	}
	s.logger.Debug("session exported",
		zap.String("session_id", doc.ID),
		zap.Int("messages", len(a.Transcript)))
	return nil
}

// Get returns the archived export of sessionID.
func (s *MongoSink) Get(ctx context.Context, sessionID string) (*conductor.ArchivedSession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc, err := s.store.find(ctx, sessionID)
	if errors.Is(err, errNoDocument) {
		return nil, types.NewNotFoundError("archived session", sessionID)
	}
	if err != nil {
		return nil, types.NewPersistenceError("read archive", err)
	}
	out := doc.ArchivedSession
	return &out, nil
}

// List returns up to limit exports, newest archive first.
func (s *MongoSink) List(ctx context.Context, limit int) ([]conductor.ArchivedSession, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	docs, err := s.store.list(ctx, int64(limit))
	if err != nil {
		return nil, types.NewPersistenceError("list archive", err)
	}
	out := make([]conductor.ArchivedSession, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ArchivedSession)
	}
	return out, nil
}

// Ping checks the primary is reachable.
func (s *MongoSink) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *MongoSink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// =============================================================================
// mongo collection adapter
// =============================================================================

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) upsert(ctx context.Context, doc *document) error {
	_, err := c.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: doc.ID}},
		doc,
		options.Replace().SetUpsert(true))
	return err
}

func (c *mongoCollection) find(ctx context.Context, id string) (*document, error) {
	var doc document
	err := c.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errNoDocument
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *mongoCollection) list(ctx context.Context, limit int64) ([]document, error) {
	cur, err := c.coll.Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "archived_at", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, err
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

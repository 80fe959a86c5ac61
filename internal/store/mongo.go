package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/telemetry"
	"document-chat-platform/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on a single MongoDB database.
type MongoStore struct {
	db         *mongo.Database
	documents  *mongo.Collection
	deleted    *mongo.Collection
	embeddings *mongo.Collection
	sessions   *mongo.Collection
	usage      *mongo.Collection
	metrics    *telemetry.Metrics
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		db:         db,
		documents:  db.Collection(DocumentsCollection),
		deleted:    db.Collection(DeletedDocumentsCollection),
		embeddings: db.Collection(EmbeddingsCollection),
		sessions:   db.Collection(SessionsCollection),
		usage:      db.Collection(UsageCollection),
	}
}

// EnsureIndexes creates the unique keys every upsert relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.documents: {
			{
				Keys:    bson.D{{Key: "owner", Value: 1}, {Key: "content_hash", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		s.embeddings: {
			{
				Keys: bson.D{
					{Key: "owner", Value: 1},
					{Key: "document_hash", Value: 1},
					{Key: "chunk_index", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		s.sessions: {
			{
				Keys:    bson.D{{Key: "owner", Value: 1}, {Key: "session_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "last_activity", Value: -1}}},
			{Keys: bson.D{{Key: "last_activity", Value: 1}}},
		},
		s.usage: {
			{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		s.deleted: {
			{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "deleted_at", Value: -1}}},
		},
	}

	for col, idx := range indexes {
		if _, err := col.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", col.Name(), err)
		}
	}
	return nil
}

// WithMetrics records the outcome of every write against m.
func (s *MongoStore) WithMetrics(m *telemetry.Metrics) *MongoStore {
	s.metrics = m
	return s
}

func persistErr(op string, err error) error {
	return apperr.Wrap(apperr.ErrPersistenceFailure, op, err)
}

// written counts the write and wraps a failure as a persistence error.
func (s *MongoStore) written(op, collection string, err error) error {
	s.metrics.RecordDatabaseOperation(op, collection, err == nil)
	if err != nil {
		return persistErr(op, err)
	}
	return nil
}

func (s *MongoStore) FindDocument(ctx context.Context, hash, owner string) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"content_hash": hash, "owner": owner}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) UpsertDocument(ctx context.Context, doc *models.Document) error {
	_, err := s.documents.UpdateOne(ctx,
		bson.M{"content_hash": doc.ContentHash, "owner": doc.Owner},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	return s.written("upsert document", DocumentsCollection, err)
}

// UpsertIncompleteDocument only matches rows that are not completed. When a
// completed row exists the upsert collides with the unique key instead, which
// is reported as not written.
func (s *MongoStore) UpsertIncompleteDocument(ctx context.Context, doc *models.Document) (bool, error) {
	_, err := s.documents.UpdateOne(ctx,
		bson.M{
			"content_hash": doc.ContentHash,
			"owner":        doc.Owner,
			"status":       bson.M{"$ne": models.StatusCompleted},
		},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		s.metrics.RecordDatabaseOperation("upsert incomplete document", DocumentsCollection, true)
		return false, nil
	}
	if err := s.written("upsert incomplete document", DocumentsCollection, err); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MongoStore) TouchDocument(ctx context.Context, hash, owner string, at time.Time) error {
	res, err := s.documents.UpdateOne(ctx,
		bson.M{"content_hash": hash, "owner": owner},
		bson.M{"$set": bson.M{"last_used_at": at}},
	)
	if err := s.written("touch document", DocumentsCollection, err); err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.ErrDocumentNotFound
	}
	return nil
}

func (s *MongoStore) ListDocuments(ctx context.Context, owner string) ([]models.Document, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetProjection(bson.M{"text_blob": 0})
	cursor, err := s.documents.Find(ctx, bson.M{"owner": owner}, opts)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	return docs, nil
}

func (s *MongoStore) DeleteDocument(ctx context.Context, hash, owner string) error {
	res, err := s.documents.DeleteOne(ctx, bson.M{"content_hash": hash, "owner": owner})
	if err := s.written("delete document", DocumentsCollection, err); err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return apperr.ErrDocumentNotFound
	}
	return nil
}

func (s *MongoStore) ArchiveDeleted(ctx context.Context, doc *models.DeletedDocument) error {
	_, err := s.deleted.InsertOne(ctx, doc)
	return s.written("archive deleted document", DeletedDocumentsCollection, err)
}

func (s *MongoStore) DeletedSince(ctx context.Context, owner string, since time.Time) ([]models.DeletedDocument, error) {
	cursor, err := s.deleted.Find(ctx, bson.M{"owner": owner, "deleted_at": bson.M{"$gte": since}})
	if err != nil {
		return nil, fmt.Errorf("list deleted documents: %w", err)
	}
	var out []models.DeletedDocument
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode deleted documents: %w", err)
	}
	return out, nil
}

func (s *MongoStore) UpsertEmbeddings(ctx context.Context, records []models.ChunkEmbedding) error {
	if len(records) == 0 {
		return nil
	}

	batch := make([]mongo.WriteModel, 0, len(records))
	for i := range records {
		r := records[i]
		batch = append(batch, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"document_hash": r.DocumentHash, "chunk_index": r.ChunkIndex, "owner": r.Owner}).
			SetUpdate(bson.M{"$set": r}).
			SetUpsert(true))
	}

	_, err := s.embeddings.BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false))
	return s.written("upsert embeddings", EmbeddingsCollection, err)
}

func (s *MongoStore) ChunksForDocuments(ctx context.Context, owner string, hashes []string) ([]models.ChunkEmbedding, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	cursor, err := s.embeddings.Find(ctx, bson.M{
		"owner":         owner,
		"document_hash": bson.M{"$in": hashes},
	})
	if err != nil {
		return nil, fmt.Errorf("find chunks: %w", err)
	}
	var out []models.ChunkEmbedding
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	sortChunks(out, hashes)
	return out, nil
}

func (s *MongoStore) DeleteEmbeddings(ctx context.Context, hash, owner string) error {
	_, err := s.embeddings.DeleteMany(ctx, bson.M{"document_hash": hash, "owner": owner})
	return s.written("delete embeddings", EmbeddingsCollection, err)
}

func (s *MongoStore) LoadSession(ctx context.Context, sessionID, owner string) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.sessions.FindOne(ctx, bson.M{"session_id": sessionID, "owner": owner}).Decode(&session)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &session, nil
}

func (s *MongoStore) SaveSession(ctx context.Context, session *models.ChatSession) error {
	_, err := s.sessions.ReplaceOne(ctx,
		bson.M{"session_id": session.SessionID, "owner": session.Owner},
		session,
		options.Replace().SetUpsert(true),
	)
	return s.written("save session", SessionsCollection, err)
}

func (s *MongoStore) DeleteSession(ctx context.Context, sessionID, owner string) error {
	_, err := s.sessions.DeleteOne(ctx, bson.M{"session_id": sessionID, "owner": owner})
	return s.written("delete session", SessionsCollection, err)
}

func (s *MongoStore) ListSessions(ctx context.Context, owner string, since time.Time) ([]models.ChatSession, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}})
	cursor, err := s.sessions.Find(ctx, bson.M{
		"owner":         owner,
		"last_activity": bson.M{"$gte": since},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []models.ChatSession
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return out, nil
}

func (s *MongoStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.sessions.DeleteMany(ctx, bson.M{"last_activity": bson.M{"$lt": cutoff}})
	if err := s.written("expire sessions", SessionsCollection, err); err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) AppendUsage(ctx context.Context, record *models.UsageRecord) error {
	_, err := s.usage.InsertOne(ctx, record)
	return s.written("append usage", UsageCollection, err)
}

func (s *MongoStore) UsageRecords(ctx context.Context, owner string, since time.Time) ([]models.UsageRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.usage.Find(ctx, bson.M{"owner": owner, "created_at": bson.M{"$gte": since}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find usage: %w", err)
	}
	var out []models.UsageRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return out, nil
}

func (s *MongoStore) UsageByOperation(ctx context.Context, owner string, since time.Time) ([]models.UsageLine, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"owner": owner, "created_at": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{
			"_id":           "$operation",
			"records":       bson.M{"$sum": 1},
			"quantity":      bson.M{"$sum": "$quantity"},
			"pages":         bson.M{"$sum": "$pages"},
			"cost":          bson.M{"$sum": "$cost"},
			"would_be_cost": bson.M{"$sum": "$would_be_cost"},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}
	cursor, err := s.usage.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}
	var out []models.UsageLine
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode usage lines: %w", err)
	}
	return out, nil
}

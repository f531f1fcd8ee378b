package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/scripe/tweetsync/internal/models"
	"github.com/scripe/tweetsync/internal/persist"
	"github.com/scripe/tweetsync/pkg/config"
	"github.com/scripe/tweetsync/pkg/logging"
)

const savedPostsCollection = "saved_posts"

var _ persist.Store = (*MongoPostRepository)(nil)

// Mongo wraps a MongoDB client and the database holding saved posts.
type Mongo struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewMongo connects to MongoDB and ensures the saved post indexes exist.
func NewMongo(ctx context.Context, cfg *config.DatabaseConfig) (*Mongo, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(cfg.URL).SetServerAPIOptions(serverAPI)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	var result bson.M
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	m := &Mongo{Client: client, Database: client.Database(cfg.MongoDatabase)}
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}

	logging.GetLogger().Info("Mongo connection established", zap.String("database", cfg.MongoDatabase))
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.Database.Collection(savedPostsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "author_handle", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create saved post indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// Health pings the server.
func (m *Mongo) Health(ctx context.Context) error {
	return m.Client.Ping(ctx, nil)
}

// MongoPostRepository stores saved posts in a MongoDB collection.
type MongoPostRepository struct {
	coll *mongo.Collection
}

// NewMongoPostRepository creates a repository over the saved_posts collection.
func NewMongoPostRepository(m *Mongo) *MongoPostRepository {
	return &MongoPostRepository{coll: m.Database.Collection(savedPostsCollection)}
}

func ownerPostFilter(ownerID, postID string) bson.M {
	return bson.M{"owner_id": ownerID, "id": postID}
}

// ExistingIDs reports which of ids ownerID has saved.
func (r *MongoPostRepository) ExistingIDs(ctx context.Context, ownerID string, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	opts := options.Find().SetProjection(bson.M{"id": 1})
	cur, err := r.coll.Find(ctx, bson.M{"owner_id": ownerID, "id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		found[doc.ID] = true
	}
	return found, cur.Err()
}

// Insert creates a new saved post
func (r *MongoPostRepository) Insert(ctx context.Context, row *models.SavedPost) error {
	_, err := r.coll.InsertOne(ctx, row)
	return err
}

// UpdateMetadata rewrites the author snapshot, media and thread fields.
func (r *MongoPostRepository) UpdateMetadata(ctx context.Context, ownerID string, p *models.Post, now time.Time) error {
	row := &models.SavedPost{UpdatedAt: now}
	row.ApplyMetadata(p)
	_, err := r.coll.UpdateOne(ctx, ownerPostFilter(ownerID, p.ID), bson.M{"$set": metadataSet(row)})
	return err
}

// Replace overwrites every post field.
func (r *MongoPostRepository) Replace(ctx context.Context, ownerID string, p *models.Post, now time.Time) error {
	row := &models.SavedPost{UpdatedAt: now}
	row.ApplyContent(p)
	row.ApplyMetadata(p)

	set := metadataSet(row)
	for k, v := range contentSet(row) {
		set[k] = v
	}
	_, err := r.coll.UpdateOne(ctx, ownerPostFilter(ownerID, p.ID), bson.M{"$set": set})
	return err
}

// DeleteByOwnerAndID removes one saved post.
func (r *MongoPostRepository) DeleteByOwnerAndID(ctx context.Context, ownerID, postID string) (bool, error) {
	res, err := r.coll.DeleteOne(ctx, ownerPostFilter(ownerID, postID))
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// DeleteByHandle removes every saved post by a lower-cased author handle.
func (r *MongoPostRepository) DeleteByHandle(ctx context.Context, handle string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"author_handle": handle})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// ListByOwner returns the newest saved posts of ownerID, with the same id
// tie-break as the SQL repository.
func (r *MongoPostRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.SavedPost, error) {
	cur, err := r.coll.Aggregate(ctx, listPipeline(ownerID, limit))
	if err != nil {
		return nil, err
	}

	var rows []*models.SavedPost
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func listPipeline(ownerID string, limit int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"owner_id": ownerID}}},
		{{Key: "$addFields", Value: bson.M{"id_len": bson.M{"$strLenCP": "$id"}}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "created_at", Value: -1},
			{Key: "id_len", Value: -1},
			{Key: "id", Value: -1},
		}}},
		{{Key: "$limit", Value: int64(limit)}},
		{{Key: "$project", Value: bson.M{"id_len": 0}}},
	}
}

// metadataSet lists the fields UpdateMetadata rewrites, keyed by bson name.
func metadataSet(row *models.SavedPost) bson.M {
	return bson.M{
		"author":          row.Author,
		"author_handle":   row.AuthorHandle,
		"media":           row.Media,
		"conversation_id": row.ConversationID,
		"thread_id":       row.ThreadID,
		"thread_index":    row.ThreadIndex,
		"thread_position": row.ThreadPosition,
		"is_root_post":    row.IsRootPost,
		"category":        row.Category,
		"updated_at":      row.UpdatedAt,
	}
}

// contentSet lists the remaining post fields Replace rewrites.
func contentSet(row *models.SavedPost) bson.M {
	return bson.M{
		"text":                  row.Text,
		"display_text":          row.DisplayText,
		"created_at":            row.PostCreatedAt,
		"metrics":               row.Metrics,
		"in_reply_to_author_id": row.InReplyToAuthorID,
		"in_reply_to_post_id":   row.InReplyToPostID,
		"is_long":               row.IsLong,
		"is_self_thread":        row.IsSelfThread,
		"is_retweet":            row.IsRetweet,
		"retweeted_post":        row.RetweetedPost,
		"is_quote":              row.IsQuote,
		"quoted_post":           row.QuotedPost,
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const collectionName = "speaking_sessions"

// MongoStore persists sessions in a MongoDB collection. The version field is
// incremented on every successful write; AppendTurns filters on {_id, version}
// so a stale writer matches nothing and surfaces ErrVersionConflict instead of
// clobbering a concurrent update.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore connects to MongoDB and pings it before returning.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, *mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &MongoStore{coll: client.Database(database).Collection(collectionName)}, client, nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*SpeakingSession, error) {
	var sess SpeakingSession
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *MongoStore) AppendTurns(ctx context.Context, id string, version int64, turns []Turn, metadata map[string]string) error {
	update := bson.M{
		"$push": bson.M{"turns": bson.M{"$each": turns}},
		"$inc":  bson.M{"version": int64(1)},
	}
	if len(metadata) > 0 {
		set := bson.M{}
		for k, v := range metadata {
			set["metadata."+k] = v
		}
		update["$set"] = set
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id, "version": version}, update)
	if err != nil {
		return fmt.Errorf("append turns to session %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		// Either the document is gone or the version moved under us.
		// Distinguish so callers only retry the conflict case.
		if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Err(); errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, sess *SpeakingSession) error {
	if sess.Metadata == nil {
		sess.Metadata = map[string]string{}
	}
	if sess.Turns == nil {
		sess.Turns = []Turn{}
	}
	if _, err := s.coll.InsertOne(ctx, sess); err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

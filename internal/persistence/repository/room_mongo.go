package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRoomStorage struct {
	collection *mongo.Collection
}

// NewMongoRoomStorage stores room documents in the named collection, or in
// the rooms collection when name is empty.
func NewMongoRoomStorage(database *mongo.Database, name string) *MongoRoomStorage {
	if name == "" {
		name = db.RoomsCollection
	}
	return &MongoRoomStorage{
		collection: database.Collection(name),
	}
}

func toBSONFilter(filter domain.RoomFilter) (bson.M, error) {
	switch {
	case filter.ID != "":
		return bson.M{"_id": filter.ID}, nil
	case filter.RoomCode != "":
		return bson.M{"roomCode": filter.RoomCode}, nil
	default:
		return nil, fmt.Errorf("%w: empty room filter", domain.ErrValidationFailed)
	}
}

func toBSONUpdate(update domain.Update) bson.M {
	doc := bson.M{}

	if len(update.Sets) > 0 {
		set := bson.M{}
		for path, value := range update.Sets {
			set[path] = value
		}
		doc["$set"] = set
	}

	if len(update.Unsets) > 0 {
		unset := bson.M{}
		for _, path := range update.Unsets {
			unset[path] = ""
		}
		doc["$unset"] = unset
	}

	return doc
}

func storageError(op string, err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return domain.ErrRoomNotFound
	case mongo.IsDuplicateKeyError(err):
		return domain.ErrDuplicateRoomCode
	default:
		return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
	}
}

func (s *MongoRoomStorage) FindOne(ctx context.Context, filter domain.RoomFilter) (*domain.Room, error) {
	f, err := toBSONFilter(filter)
	if err != nil {
		return nil, err
	}

	var room domain.Room
	if err := s.collection.FindOne(ctx, f).Decode(&room); err != nil {
		return nil, storageError("findOne", err)
	}

	return &room, nil
}

func (s *MongoRoomStorage) FindAndModify(ctx context.Context, filter domain.RoomFilter, update domain.Update) (*domain.Room, error) {
	f, err := toBSONFilter(filter)
	if err != nil {
		return nil, err
	}
	if update.IsEmpty() {
		return s.FindOne(ctx, filter)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var room domain.Room
	if err := s.collection.FindOneAndUpdate(ctx, f, toBSONUpdate(update), opts).Decode(&room); err != nil {
		return nil, storageError("findAndModify", err)
	}

	return &room, nil
}

func (s *MongoRoomStorage) InsertOne(ctx context.Context, room *domain.Room) (string, error) {
	if room == nil || room.RoomCode == "" {
		return "", fmt.Errorf("%w: room code is required", domain.ErrValidationFailed)
	}

	doc := room.Clone()
	if doc.ID == "" {
		doc.ID = primitive.NewObjectID().Hex()
	}

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return "", storageError("insertOne", err)
	}

	return doc.ID, nil
}

func (s *MongoRoomStorage) DeleteOne(ctx context.Context, filter domain.RoomFilter) (int64, error) {
	f, err := toBSONFilter(filter)
	if err != nil {
		return 0, err
	}

	res, err := s.collection.DeleteOne(ctx, f)
	if err != nil {
		return 0, storageError("deleteOne", err)
	}

	return res.DeletedCount, nil
}

func (s *MongoRoomStorage) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "roomCode", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "lastUpdated", Value: -1}},
		},
	}

	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

package chatstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sahilchouksey/askable/model"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const chatsCollection = "chats"

// chatDocument keeps the blob as a string so it is byte-identical to the
// other backends; version drives compare-and-set appends.
type chatDocument struct {
	ID        string    `bson:"_id"`
	Data      string    `bson:"data"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type MongoBackend struct {
	coll *mongo.Collection
}

func NewMongoBackend(db *mongo.Database) *MongoBackend {
	return &MongoBackend{coll: db.Collection(chatsCollection)}
}

func (b *MongoBackend) Put(ctx context.Context, id string, chat *model.ChatData) error {
	data, err := model.EncodeChat(chat)
	if err != nil {
		return err
	}
	_, err = b.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set": bson.M{"data": string(data), "updatedAt": time.Now().UTC()},
			"$inc": bson.M{"version": 1},
		},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (b *MongoBackend) Get(ctx context.Context, id string) (*model.ChatData, error) {
	doc, err := b.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.DecodeChat([]byte(doc.Data))
}

func (b *MongoBackend) Append(ctx context.Context, id string, msg model.Message, fallback *model.ChatData) error {
	for i := 0; i < maxAppendRetries; i++ {
		doc, err := b.find(ctx, id)
		if errors.Is(err, ErrChatNotFound) {
			data, err := model.EncodeChat(applyAppend(nil, msg, fallback))
			if err != nil {
				return err
			}
			_, err = b.coll.InsertOne(ctx, chatDocument{ID: id, Data: string(data), Version: 1, UpdatedAt: time.Now().UTC()})
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return err
		}
		if err != nil {
			return err
		}

		chat, err := model.DecodeChat([]byte(doc.Data))
		if err != nil {
			return err
		}
		data, err := model.EncodeChat(applyAppend(chat, msg, fallback))
		if err != nil {
			return err
		}

		res, err := b.coll.UpdateOne(ctx,
			bson.M{"_id": id, "version": doc.Version},
			bson.M{"$set": bson.M{"data": string(data), "version": doc.Version + 1, "updatedAt": time.Now().UTC()}},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}
	return fmt.Errorf("append to chat %s: too much contention", id)
}

func (b *MongoBackend) find(ctx context.Context, id string) (*chatDocument, error) {
	var doc chatDocument
	err := b.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

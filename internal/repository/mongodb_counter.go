package repository

import (
	"context"
	"game-rewards/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongodbCounterRepository implements CounterRepository using MongoDB
type mongodbCounterRepository struct {
	collection *mongo.Collection
}

// NewCounterRepository creates a new MongoDB-based counter repository
func NewCounterRepository(db *mongo.Database) CounterRepository {
	return &mongodbCounterRepository{
		collection: db.Collection("play_counters"),
	}
}

func counterFilter(shopDomain, customerKey, periodKey string) bson.M {
	return bson.M{
		"shop_domain":  shopDomain,
		"customer_key": customerKey,
		"period_key":   periodKey,
	}
}

// Increment is a conditional update with an insert fallback rather than an
// upsert: an upsert filter containing "count < limit" would mint a fresh
// document every time the condition fails. The unique index on
// (shop_domain, customer_key, period_key) makes the insert race safe.
func (r *mongodbCounterRepository) Increment(ctx context.Context, shopDomain, customerKey, periodKey string, limit int) (int, error) {
	if limit <= 0 {
		return 0, ErrLimitExceeded
	}

	for attempt := 0; attempt < 2; attempt++ {
		filter := counterFilter(shopDomain, customerKey, periodKey)
		filter["count"] = bson.M{"$lt": limit}

		result := r.collection.FindOneAndUpdate(
			ctx,
			filter,
			bson.M{"$inc": bson.M{"count": 1}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		)
		if result.Err() == nil {
			var counter model.PlayCounter
			if err := result.Decode(&counter); err != nil {
				return 0, err
			}
			return counter.Count, nil
		}
		if result.Err() != mongo.ErrNoDocuments {
			return 0, result.Err()
		}

		// No matching document: either the counter is at the limit or it does
		// not exist yet. Distinguish by trying a first-play insert.
		_, err := r.collection.InsertOne(ctx, &model.PlayCounter{
			ShopDomain:  shopDomain,
			CustomerKey: customerKey,
			PeriodKey:   periodKey,
			Count:       1,
		})
		if err == nil {
			return 1, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return 0, err
		}
		// Lost the insert race to a concurrent first play; retry the
		// conditional update once against the now-existing document.
	}

	return 0, ErrLimitExceeded
}

func (r *mongodbCounterRepository) Decrement(ctx context.Context, shopDomain, customerKey, periodKey string) error {
	filter := counterFilter(shopDomain, customerKey, periodKey)
	filter["count"] = bson.M{"$gt": 0}

	_, err := r.collection.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"count": -1}})
	return err
}

func (r *mongodbCounterRepository) Count(ctx context.Context, shopDomain, customerKey, periodKey string) (int, error) {
	var counter model.PlayCounter
	err := r.collection.FindOne(ctx, counterFilter(shopDomain, customerKey, periodKey)).Decode(&counter)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return 0, nil
		}
		return 0, err
	}
	return counter.Count, nil
}

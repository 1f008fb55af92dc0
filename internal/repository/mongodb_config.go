package repository

import (
	"context"
	"game-rewards/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// mongodbConfigRepository implements ConfigRepository using MongoDB
type mongodbConfigRepository struct {
	configs *mongo.Collection
	shops   *mongo.Collection
}

// NewConfigRepository creates a new MongoDB-based config repository
func NewConfigRepository(db *mongo.Database) ConfigRepository {
	return &mongodbConfigRepository{
		configs: db.Collection("shop_configs"),
		shops:   db.Collection("shops"),
	}
}

func (r *mongodbConfigRepository) GetShopConfig(ctx context.Context, shopDomain string) (*model.ShopConfig, error) {
	var cfg model.ShopConfig
	err := r.configs.FindOne(ctx, bson.M{"shop_domain": shopDomain}).Decode(&cfg)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrShopNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

func (r *mongodbConfigRepository) GetShopRecord(ctx context.Context, shopDomain string) (*model.ShopRecord, error) {
	var record model.ShopRecord
	err := r.shops.FindOne(ctx, bson.M{"shop_domain": shopDomain}).Decode(&record)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrShopNotFound
		}
		return nil, err
	}
	return &record, nil
}

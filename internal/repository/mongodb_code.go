package repository

import (
	"context"
	"game-rewards/internal/model"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// mongodbCodeRepository implements CodeRepository using MongoDB
type mongodbCodeRepository struct {
	collection *mongo.Collection
}

// NewCodeRepository creates a new MongoDB-based discount code repository
func NewCodeRepository(db *mongo.Database) CodeRepository {
	return &mongodbCodeRepository{
		collection: db.Collection("discount_codes"),
	}
}

func (r *mongodbCodeRepository) InsertPending(ctx context.Context, code *model.DiscountCode) error {
	_, err := r.collection.InsertOne(ctx, code)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateCode
		}
		return err
	}
	return nil
}

func (r *mongodbCodeRepository) Activate(ctx context.Context, shopDomain, code, priceRuleID string) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{
			"shop_domain": shopDomain,
			"code":        code,
			"status":      model.CodePending,
		},
		bson.M{"$set": bson.M{
			"status":        model.CodeActive,
			"price_rule_id": priceRuleID,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrCodeNotFound
	}
	return nil
}

func (r *mongodbCodeRepository) DeletePending(ctx context.Context, shopDomain, code string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{
		"shop_domain": shopDomain,
		"code":        code,
		"status":      model.CodePending,
	})
	return err
}

func (r *mongodbCodeRepository) GetByCode(ctx context.Context, shopDomain, code string) (*model.DiscountCode, error) {
	var dc model.DiscountCode
	err := r.collection.FindOne(ctx, bson.M{
		"shop_domain": shopDomain,
		"code":        code,
	}).Decode(&dc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return &dc, nil
}

func (r *mongodbCodeRepository) GetSessionCode(ctx context.Context, sessionID string) (*model.DiscountCode, error) {
	var dc model.DiscountCode
	err := r.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&dc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return &dc, nil
}

// MarkUsed is a single conditional update: only an active, unused, unexpired
// code transitions, and only once.
func (r *mongodbCodeRepository) MarkUsed(ctx context.Context, shopDomain, code string, usedAt time.Time) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{
			"shop_domain": shopDomain,
			"code":        code,
			"status":      model.CodeActive,
			"is_used":     false,
			"expires_at":  bson.M{"$gt": usedAt},
		},
		bson.M{"$set": bson.M{
			"is_used": true,
			"used_at": usedAt,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrCodeNotUsable
	}
	return nil
}

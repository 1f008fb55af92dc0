package repository

import (
	"context"
	"game-rewards/internal/model"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongodbSessionRepository implements SessionRepository using MongoDB
type mongodbSessionRepository struct {
	collection *mongo.Collection
}

// NewSessionRepository creates a new MongoDB-based session repository
func NewSessionRepository(db *mongo.Database) SessionRepository {
	return &mongodbSessionRepository{
		collection: db.Collection("play_sessions"),
	}
}

func (r *mongodbSessionRepository) Create(ctx context.Context, session *model.PlaySession) error {
	_, err := r.collection.InsertOne(ctx, session)
	return err
}

func (r *mongodbSessionRepository) GetBySessionID(ctx context.Context, sessionID string) (*model.PlaySession, error) {
	var session model.PlaySession
	err := r.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&session)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// Complete performs the Pending->Completed transition as a single conditional
// update, so exactly one of any number of concurrent finish calls wins.
func (r *mongodbSessionRepository) Complete(ctx context.Context, sessionID string, fromStates []model.SessionState, finalScore int, completedAt time.Time) (*model.PlaySession, error) {
	result := r.collection.FindOneAndUpdate(
		ctx,
		bson.M{
			"session_id": sessionID,
			"state":      bson.M{"$in": fromStates},
		},
		bson.M{"$set": bson.M{
			"state":        model.StateCompleted,
			"final_score":  finalScore,
			"completed_at": completedAt,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if result.Err() != nil {
		if result.Err() == mongo.ErrNoDocuments {
			return nil, ErrNoTransition
		}
		return nil, result.Err()
	}

	var session model.PlaySession
	if err := result.Decode(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *mongodbSessionRepository) RecordOutcome(ctx context.Context, sessionID string, outcome *model.DiscountOutcome) error {
	update := bson.M{
		"discount_percent": outcome.DiscountEarned,
		"reward_pending":   outcome.RewardPending,
		"outcome_recorded": true,
	}
	if outcome.DiscountCode != "" {
		update["discount_code"] = outcome.DiscountCode
	}
	if outcome.ExpiresAt != nil {
		update["code_expires_at"] = outcome.ExpiresAt
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": update},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *mongodbSessionRepository) MarkAbandoned(ctx context.Context, sessionID string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{
			"session_id": sessionID,
			"state":      model.StateExpired,
		},
		bson.M{"$set": bson.M{"state": model.StateAbandoned}},
	)
	return err
}

func (r *mongodbSessionRepository) ExpireStale(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.collection.UpdateMany(ctx,
		bson.M{
			"state":      model.StatePending,
			"created_at": bson.M{"$lt": before},
		},
		bson.M{"$set": bson.M{"state": model.StateExpired}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB wraps the MongoDB client and database
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// Connect establishes a connection to MongoDB
func Connect(ctx context.Context, uri, dbName string) (*MongoDB, error) {
	clientOptions := options.Client().ApplyURI(uri)

	// Set connection timeout
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)

	mongoDB := &MongoDB{
		Client:   client,
		Database: db,
	}

	// Create indexes
	if err := mongoDB.CreateIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return mongoDB, nil
}

// CreateIndexes creates all necessary indexes for the application
func (m *MongoDB) CreateIndexes(ctx context.Context) error {
	// Unique index on play_sessions.session_id: the finish idempotency key
	sessions := m.Database.Collection("play_sessions")
	sessionIDIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("session_id_unique"),
	}
	if _, err := sessions.Indexes().CreateOne(ctx, sessionIDIndex); err != nil {
		return fmt.Errorf("failed to create session_id index: %w", err)
	}

	// Index supporting the stale-session sweep
	staleIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "state", Value: 1}, {Key: "created_at", Value: 1}},
		Options: options.Index().SetName("state_created_at_index"),
	}
	if _, err := sessions.Indexes().CreateOne(ctx, staleIndex); err != nil {
		return fmt.Errorf("failed to create state index: %w", err)
	}

	// Unique compound index on discount_codes(shop_domain, code): code
	// strings are unique per shop namespace
	codes := m.Database.Collection("discount_codes")
	shopCodeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "shop_domain", Value: 1},
			{Key: "code", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("shop_code_unique"),
	}
	if _, err := codes.Indexes().CreateOne(ctx, shopCodeIndex); err != nil {
		return fmt.Errorf("failed to create shop_code index: %w", err)
	}

	// Unique index on discount_codes.session_id: a session owns at most one code
	codeSessionIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("code_session_unique"),
	}
	if _, err := codes.Indexes().CreateOne(ctx, codeSessionIndex); err != nil {
		return fmt.Errorf("failed to create code session index: %w", err)
	}

	// Unique compound index on play_counters(shop_domain, customer_key,
	// period_key): makes the first-play insert race safe
	counters := m.Database.Collection("play_counters")
	counterIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "shop_domain", Value: 1},
			{Key: "customer_key", Value: 1},
			{Key: "period_key", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("counter_identity_unique"),
	}
	if _, err := counters.Indexes().CreateOne(ctx, counterIndex); err != nil {
		return fmt.Errorf("failed to create counter index: %w", err)
	}

	// Unique index on shop_configs.shop_domain
	configs := m.Database.Collection("shop_configs")
	configIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "shop_domain", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("config_shop_unique"),
	}
	if _, err := configs.Indexes().CreateOne(ctx, configIndex); err != nil {
		return fmt.Errorf("failed to create config index: %w", err)
	}

	return nil
}

// Disconnect closes the MongoDB connection
func (m *MongoDB) Disconnect(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

var (
	clientInstance *mongo.Client
	dbInstance     *mongo.Database
	initOnce       sync.Once
	initErr        error
)

// InitMongoDB connects the process wide client and selects dbName.
// It should be called once at application startup. Transactions need a
// replica set or a sharded cluster.
func InitMongoDB(ctx context.Context, uri, dbName string) error {
	initOnce.Do(func() {
		log.Info().Str("database", dbName).Msg("Initializing MongoDB client")

		clientOptions := options.Client().
			ApplyURI(uri).
			SetConnectTimeout(10 * time.Second).
			SetMonitor(otelmongo.NewMonitor())

		client, err := mongo.Connect(ctx, clientOptions)
		if err != nil {
			initErr = fmt.Errorf("failed to connect to MongoDB: %w", err)
			return
		}

		// Ping the primary to verify connection.
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			initErr = fmt.Errorf("failed to ping MongoDB primary: %w", err)
			return
		}

		clientInstance = client
		dbInstance = client.Database(dbName)
		log.Info().Msg("MongoDB client initialized successfully.")
	})

	return initErr
}

// GetDB returns the MongoDB database instance.
func GetDB() (*mongo.Database, error) {
	if dbInstance == nil {
		return nil, errors.New("mongodb is not initialized, call InitMongoDB first")
	}
	return dbInstance, nil
}

// GetClient returns the MongoDB client instance.
func GetClient() (*mongo.Client, error) {
	if clientInstance == nil {
		return nil, errors.New("mongodb is not initialized, call InitMongoDB first")
	}
	return clientInstance, nil
}

// Ping sends a ping to the MongoDB server using the global client.
// This is useful for health checks.
func Ping(ctx context.Context) error {
	if clientInstance == nil {
		return errors.New("mongodb is not initialized, call InitMongoDB first")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return clientInstance.Ping(pingCtx, readpref.Primary())
}

// CloseMongoDB disconnects the MongoDB client.
// It should be called on application shutdown.
func CloseMongoDB(ctx context.Context) {
	if clientInstance != nil {
		log.Info().Msg("Closing MongoDB connection.")
		if err := clientInstance.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("Error closing MongoDB connection")
		}
	}
}

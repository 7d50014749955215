// Package main is the seqctl operational CLI: it prepares the counter
// store, allocates and inspects counters, and exercises the sequence
// plugin end to end against a live MongoDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"mongoseq/pkg/logger"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "seqctl",
	Short: "seqctl manages MongoDB-backed sequence counters",
	Long: `seqctl manages MongoDB-backed sequence counters: it prepares the ` +
		`counter collection, allocates and inspects values, verifies allocation ` +
		`under concurrency, and demonstrates the schema plugin end to end.`,
	SilenceUsage: true,
}

func main() {
	// A missing .env file is fine; environment variables win either way.
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Errorw("command failed", "error", err)
		os.Exit(1)
	}
}

// connect establishes and pings the MongoDB connection from environment
// configuration (MONGO_URI, MONGO_DB).
func connect(ctx context.Context) (*mongo.Client, *mongo.Database, error) {
	uri := getEnv("MONGO_URI", "mongodb://localhost:27017")
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}
	logger.Debug(ctx, "mongodb connection established", "uri", uri)
	return client, client.Database(getEnv("MONGO_DB", "mongoseq")), nil
}

func disconnect(ctx context.Context, client *mongo.Client) {
	if err := client.Disconnect(ctx); err != nil {
		logger.Warn(ctx, "failed to disconnect from mongodb", "error", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

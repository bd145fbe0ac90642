package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	payments "github.com/saccosmart/saccosmart-go/payments"
	services "github.com/saccosmart/saccosmart-go/services"
	store "github.com/saccosmart/saccosmart-go/store"
)

// Config carries everything handlers need: the Mongo client for plain CRUD
// collections, the contribution store and settlement service for the
// ledger, and auth/server settings.
type Config struct {
	Port   string
	DBName string

	MongoClient *mongo.Client

	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Contributions store.ContributionStore
	Settlements   *services.Settlement
	Sweeper       *services.Sweeper

	ProviderTimeout time.Duration
}

// Load reads .env (when present), connects Mongo if MONGO_URI is set, and
// wires the stores and provider clients. Without MONGO_URI the ledger runs
// on the in-memory store and plain CRUD resources are unavailable.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}

	cfg := &Config{
		Port:            env("PORT", "8080"),
		DBName:          env("DB_NAME", "saccosmart"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		AccessTTL:       time.Duration(envInt("ACCESS_TOKEN_MINUTES", 15)) * time.Minute,
		RefreshTTL:      time.Duration(envInt("REFRESH_TOKEN_HOURS", 168)) * time.Hour,
		ProviderTimeout: time.Duration(envInt("PROVIDER_TIMEOUT_SECONDS", 15)) * time.Second,
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if uri := os.Getenv("MONGO_URI"); uri != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("mongo ping: %w", err)
		}
		cfg.MongoClient = client

		contributions := store.NewMongoContributions(client, cfg.DBName)
		if err := contributions.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		cfg.Contributions = contributions
	} else {
		log.Println("MONGO_URI not set, using in-memory contribution store")
		cfg.Contributions = store.NewMemoryContributions()
	}

	cfg.Settlements = services.NewSettlement(cfg.Contributions, mpesaClient(cfg), cardClient(cfg), cfg.ProviderTimeout)
	cfg.Sweeper = services.NewSweeper(
		cfg.Contributions,
		time.Duration(envInt("SWEEP_INTERVAL_MINUTES", 60))*time.Minute,
		time.Duration(envInt("PENDING_EXPIRY_HOURS", 24))*time.Hour,
	)
	return cfg, nil
}

func mpesaClient(cfg *Config) payments.PushClient {
	key := os.Getenv("MPESA_CONSUMER_KEY")
	secret := os.Getenv("MPESA_CONSUMER_SECRET")
	if key == "" || secret == "" {
		log.Println("MPESA credentials not set, mobile-money pushes disabled")
		return nil
	}
	return payments.NewMpesaClient(
		env("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		key,
		secret,
		os.Getenv("MPESA_SHORTCODE"),
		os.Getenv("MPESA_PASSKEY"),
		os.Getenv("MPESA_CALLBACK_URL"),
		cfg.ProviderTimeout,
	)
}

func cardClient(cfg *Config) payments.CardClient {
	secret := os.Getenv("CARD_SECRET_KEY")
	if secret == "" {
		log.Println("CARD_SECRET_KEY not set, card checkout disabled")
		return nil
	}
	return payments.NewCardGateway(
		env("CARD_BASE_URL", "https://api.flutterwave.com/v3"),
		secret,
		os.Getenv("CARD_REDIRECT_URL"),
		cfg.ProviderTimeout,
	)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

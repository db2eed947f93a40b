package main

import (
	"log"
	"os"
	"strings"

	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/ferryman/adapters/events"
	"github.com/layer-3/ferryman/adapters/evmexact"
	"github.com/layer-3/ferryman/adapters/quotes"
	"github.com/layer-3/ferryman/adapters/store"
	"github.com/layer-3/ferryman/registry"
	"github.com/layer-3/ferryman/service"
	"github.com/layer-3/ferryman/transport/http"
)

func main() {
	// Generate a quote signing key (you would normally load this from somewhere secure)
	quoteKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}

	// Get Redis URL from environment
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	// Parse Redis URL and create client
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}

	redisClient := redis.NewClient(opts)

	// Initialize Watermill Redis publisher
	logger := watermill.NewStdLogger(false, false)
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		logger,
	)
	if err != nil {
		log.Fatalf("Failed to create Redis publisher: %v", err)
	}

	guard := store.NewRedisReplayGuard(redisClient, store.DefaultRetention)
	attempts := store.NewRedisAttemptStore(redisClient, store.DefaultRetention)
	idempotency := store.NewRedisIdempotencyStore(redisClient, store.DefaultRetention)
	locks := store.NewRedisKeyLock(redisClient, store.DefaultLockTTL)
	eventPub := events.NewWatermillPublisher(publisher)

	reg := registry.New()
	registerEVMAdapters(reg)

	quoteService := service.NewQuoteService(quotes.NewJWTQuoteSigner(quoteKey), guard)
	verifyService := service.NewVerifyService(reg, guard)
	settleService := service.NewSettleService(reg, guard, attempts, idempotency, locks, eventPub, quoteService)

	// Setup Gin router
	router := http.SetupRouter(http.RouterConfig{
		VerifyService: verifyService,
		SettleService: settleService,
		QuoteService:  quoteService,
		Registry:      reg,
		AuthToken:     os.Getenv("SETTLE_AUTH_TOKEN"),
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":9000"
	}

	// Start server
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// registerEVMAdapters binds the exact scheme on every network named in
// EVM_NETWORKS. With an RPC endpoint and a funded key the adapters settle;
// without them they are verify-only.
func registerEVMAdapters(reg *registry.Registry) {
	networks := os.Getenv("EVM_NETWORKS")
	if networks == "" {
		networks = "eip155:8453"
	}

	var broadcaster evmexact.Broadcaster
	rpcURL := os.Getenv("EVM_RPC_URL")
	keyHex := os.Getenv("EVM_PRIVATE_KEY")
	if rpcURL != "" && keyHex != "" {
		client, err := ethclient.Dial(rpcURL)
		if err != nil {
			log.Fatalf("Failed to connect to EVM RPC: %v", err)
		}
		key, err := ethcrypto.HexToECDSA(keyHex)
		if err != nil {
			log.Fatalf("Failed to parse EVM private key: %v", err)
		}
		broadcaster, err = evmexact.NewEthBroadcaster(client, key)
		if err != nil {
			log.Fatalf("Failed to create broadcaster: %v", err)
		}
	}

	for _, network := range splitNetworks(networks) {
		if err := reg.Register(evmexact.Scheme, network, evmexact.NewAdapter(broadcaster)); err != nil {
			log.Fatalf("Failed to register adapter for %s: %v", network, err)
		}
	}
}

func splitNetworks(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

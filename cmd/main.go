/**
 * @description
 * This is the main entry point for the affiliation-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/govcarpeta, pkg/documents, pkg/operatorclient: External HTTP clients.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/govcarpeta/affiliation-service/internal/api"
	"github.com/govcarpeta/affiliation-service/internal/app"
	"github.com/govcarpeta/affiliation-service/internal/config"
	"github.com/govcarpeta/affiliation-service/internal/store"
	"github.com/govcarpeta/affiliation-service/pkg/documents"
	"github.com/govcarpeta/affiliation-service/pkg/govcarpeta"
	"github.com/govcarpeta/affiliation-service/pkg/operatorclient"
	rmrabbit "github.com/govcarpeta/affiliation-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting affiliation-service\" port=%s operator_id=%s", cfg.ServerPort, cfg.OperatorID)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish events. The service can boot
	// without the broker; publishes fail until it comes back and the affected
	// flows roll back.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	externalTimeout := time.Duration(cfg.ExternalCallTimeoutSeconds) * time.Second

	// Initialize the external HTTP clients.
	registryClient := govcarpeta.NewClient(cfg.GovCarpetaAPIURL, externalTimeout)
	documentClient := documents.NewClient(cfg.DocumentServiceURL, externalTimeout)
	peerClient := operatorclient.NewClient(externalTimeout)

	var redisClient *redis.Client
	rateLimitingEnabled := cfg.ReceiveRateLimitPerMinute > 0 || cfg.ConfirmRateLimitPerMinute > 0
	if rateLimitingEnabled {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; peer rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; peer rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; peer rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	affiliationService := app.NewService(
		repository,
		registryClient,
		documentClient,
		peerClient,
		producer,
		cfg.OperatorID,
		cfg.OperatorName,
		cfg.TransferConfirmationURL,
	)

	var rateLimiter *app.RedisRateLimiter
	if redisClient != nil {
		rateLimiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the API handlers.
	affiliationHandlers := api.NewAffiliationHandlers(
		affiliationService,
		rateLimiter,
		cfg.ReceiveRateLimitPerMinute,
		cfg.ConfirmRateLimitPerMinute,
	)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.AffiliationRoutes(affiliationHandlers, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the event consumers: one queue per inbound event, prefetch 1 so
	// each queue's deliveries are processed in order.
	eventConsumer := app.NewEventConsumer(affiliationService)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	consumerQueues := []struct {
		queue      string
		routingKey string
		handler    rmrabbit.Handler
	}{
		{cfg.RegisterCompletedQueue, "register.citizen.completed", eventConsumer.HandleRegisterCompleted},
		{cfg.UnregisterCompletedQueue, "unregister.citizen.completed", eventConsumer.HandleUnregisterCompleted},
		{cfg.DocumentsReadyQueue, "documents.ready", eventConsumer.HandleDocumentsReady},
	}
	for _, c := range consumerQueues {
		if err := rabbitConsumer.Consume(c.queue, c.routingKey, c.handler); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"consumer start failed\" queue=%s err=%v", c.queue, err)
		}
		log.Printf("level=info component=bootstrap msg=\"consumer started\" queue=%s routing_key=%s", c.queue, c.routingKey)
	}

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

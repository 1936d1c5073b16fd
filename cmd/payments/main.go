package main

import (
	"context"
	"log"
	"net/http"
	"os"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/imkarn/go-saga-fulfillment/internal/awsx"
	"github.com/imkarn/go-saga-fulfillment/internal/config"
	"github.com/imkarn/go-saga-fulfillment/internal/events"
	"github.com/imkarn/go-saga-fulfillment/internal/locks"
	"github.com/imkarn/go-saga-fulfillment/internal/logging"
	"github.com/imkarn/go-saga-fulfillment/internal/metrics"
	"github.com/imkarn/go-saga-fulfillment/internal/payments"
)

func setupRouter(logger *logging.Logger, processor *payments.Processor, store *payments.Store) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	payments.RegisterRoutes(r, processor, store)
	return r
}

func main() {
	logger := logging.New("payments")
	cfg := config.Load()
	ctx := context.Background()

	awsClients, err := awsx.NewClients(ctx)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lockMgr := locks.NewManager(redisClient, locks.NodeIdentity())

	publisher := events.NewPublisher(awsClients.SQS, cfg.TransactionQueueURL)
	if err := publisher.Ready(ctx); err != nil {
		log.Fatalf("transaction queue not reachable: %v", err)
	}

	store := payments.NewStore(awsClients.DynamoDB, cfg.PaymentsTable, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	processor := payments.NewProcessor(
		store,
		lockMgr,
		publisher,
		logger,
		metrics.NewRecorder(awsClients.CloudWatch, "SagaFulfillment"),
	)

	r := setupRouter(logger, processor, store)

	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8082"
		log.Printf("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req lambdaevents.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

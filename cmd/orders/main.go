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
	"github.com/imkarn/go-saga-fulfillment/internal/clients"
	"github.com/imkarn/go-saga-fulfillment/internal/config"
	"github.com/imkarn/go-saga-fulfillment/internal/locks"
	"github.com/imkarn/go-saga-fulfillment/internal/logging"
	"github.com/imkarn/go-saga-fulfillment/internal/metrics"
	"github.com/imkarn/go-saga-fulfillment/internal/orders"
)

func setupRouter(logger *logging.Logger, saga *orders.Saga) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	orders.RegisterRoutes(r, saga)
	return r
}

func main() {
	logger := logging.New("orders")
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

	saga := orders.NewSaga(
		orders.NewStore(awsClients.DynamoDB, cfg.OrdersTable),
		clients.NewCustomerClient(cfg.CustomerServiceURL),
		clients.NewProductClient(cfg.ProductServiceURL),
		clients.NewPaymentClient(cfg.PaymentServiceURL),
		lockMgr,
		logger,
		metrics.NewRecorder(awsClients.CloudWatch, "SagaFulfillment"),
	)

	r := setupRouter(logger, saga)

	// RUN_LOCAL=true runs a plain HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
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

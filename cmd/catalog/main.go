package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/imkarn/go-saga-fulfillment/internal/awsx"
	"github.com/imkarn/go-saga-fulfillment/internal/cache"
	"github.com/imkarn/go-saga-fulfillment/internal/config"
	"github.com/imkarn/go-saga-fulfillment/internal/customers"
	"github.com/imkarn/go-saga-fulfillment/internal/logging"
	"github.com/imkarn/go-saga-fulfillment/internal/products"
)

func setupRouter(logger *logging.Logger, customerStore *customers.Store, productStore *products.Store, ch *cache.Cache) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	customers.RegisterRoutes(r, customerStore, ch)
	products.RegisterRoutes(r, productStore, ch)
	return r
}

func main() {
	logger := logging.New("catalog")
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
	ch := cache.New(redisClient, 5*time.Minute)

	r := setupRouter(
		logger,
		customers.NewStore(awsClients.DynamoDB, cfg.CustomersTable),
		products.NewStore(awsClients.DynamoDB, cfg.ProductsTable),
		ch,
	)

	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8081"
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

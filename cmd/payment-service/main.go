package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/multiplehats/jobboard-starter-sub000/internal/catalog"
	"github.com/multiplehats/jobboard-starter-sub000/internal/config"
	"github.com/multiplehats/jobboard-starter-sub000/internal/httpx"
	"github.com/multiplehats/jobboard-starter-sub000/internal/listing"
	"github.com/multiplehats/jobboard-starter-sub000/internal/order"
	"github.com/multiplehats/jobboard-starter-sub000/internal/payment"
)

func main() {
	cfg := config.Load()

	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("[catalog] %v", err)
	}

	db, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("[db] %v", err)
	}
	defer db.Close()
	store := order.NewPGRepo(db)

	registry := payment.NewRegistryFromConfig(cfg)
	payment.RegisterDefaultHandlers(registry, listing.NewClient(cfg.ListingBaseURL), cat)

	checkout := payment.NewCheckout(store, cat, registry)
	pipeline := payment.NewPipeline(store, registry)

	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.POST("/orders", createOrderHandler(checkout))
	r.GET("/orders/:id", getOrderHandler(store))
	r.POST("/checkout-sessions", createCheckoutSessionHandler(checkout))
	r.POST("/webhooks/:provider", webhookHandler(pipeline))

	log.Printf("payment-service listening on %s", cfg.Addr)
	log.Fatal(r.Run(cfg.Addr))
}

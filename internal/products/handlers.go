package products

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imkarn/go-saga-fulfillment/internal/cache"
	"github.com/imkarn/go-saga-fulfillment/internal/errs"
	"github.com/imkarn/go-saga-fulfillment/internal/validation"
)

// RegisterRoutes registers the product API on r. Product reads are cached;
// stock mutations invalidate every cached view of the product. Availability
// is never cached because it answers against live stock.
func RegisterRoutes(r *gin.Engine, store *Store, ch *cache.Cache) {
	v := validation.New()

	r.GET("/products/:id", func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		var cached Product
		if ch.GetJSON(ctx, "product:"+id, &cached) {
			c.JSON(http.StatusOK, cached)
			return
		}

		product, err := store.Get(ctx, id)
		if err != nil {
			c.JSON(errs.Response(err))
			return
		}
		if product == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
			return
		}
		ch.SetJSON(ctx, "product:"+id, product)
		c.JSON(http.StatusOK, product)
	})

	r.GET("/products/:id/availability", func(c *gin.Context) {
		quantity, err := strconv.ParseInt(c.DefaultQuery("quantity", "1"), 10, 64)
		if err != nil || quantity < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_quantity"})
			return
		}
		availability, err := store.CheckAvailability(c.Request.Context(), c.Param("id"), quantity)
		if err != nil {
			c.JSON(errs.Response(err))
			return
		}
		if availability == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
			return
		}
		c.JSON(http.StatusOK, availability)
	})

	r.POST("/products/:id/reserve", func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		var req validation.QuantityRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		err := store.Reserve(ctx, id, req.Quantity)
		if errors.Is(err, ErrInsufficientStock) {
			c.JSON(http.StatusConflict, gin.H{"reserved": false, "error": "insufficient_stock"})
			return
		}
		if err != nil {
			c.JSON(errs.Response(err))
			return
		}
		ch.InvalidatePattern(ctx, "product:"+id+"*")
		c.JSON(http.StatusOK, gin.H{"reserved": true})
	})

	r.POST("/products/:id/release", func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		var req validation.QuantityRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		if err := store.Release(ctx, id, req.Quantity); err != nil {
			c.JSON(errs.Response(err))
			return
		}
		ch.InvalidatePattern(ctx, "product:"+id+"*")
		c.JSON(http.StatusOK, gin.H{"released": true})
	})
}

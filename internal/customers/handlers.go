package customers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imkarn/go-saga-fulfillment/internal/cache"
	"github.com/imkarn/go-saga-fulfillment/internal/errs"
)

// RegisterRoutes registers the customer API on r. Reads go through the
// cache-aside layer; ch may be nil to disable caching.
func RegisterRoutes(r *gin.Engine, store *Store, ch *cache.Cache) {
	r.GET("/customers/:id", func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		var cached Customer
		if ch.GetJSON(ctx, "customer:"+id, &cached) {
			c.JSON(http.StatusOK, cached)
			return
		}

		customer, err := store.Get(ctx, id)
		if err != nil {
			c.JSON(errs.Response(err))
			return
		}
		if customer == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "customer_not_found"})
			return
		}
		ch.SetJSON(ctx, "customer:"+id, customer)
		c.JSON(http.StatusOK, customer)
	})
}

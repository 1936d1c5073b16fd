package payments

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imkarn/go-saga-fulfillment/internal/errs"
	"github.com/imkarn/go-saga-fulfillment/internal/validation"
)

// RegisterRoutes registers the payment API on r.
func RegisterRoutes(r *gin.Engine, processor *Processor, store *Store) {
	v := validation.New()

	r.POST("/payments/process", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.ProcessPaymentRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		key := req.IdempotencyKey
		// the header wins over the body field
		if h := c.GetHeader("Idempotency-Key"); h != "" {
			key = h
		}

		res, err := processor.Process(ctx, ProcessRequest{
			CustomerID:     req.CustomerID,
			OrderID:        req.OrderID,
			ProductID:      req.ProductID,
			Amount:         req.Amount,
			PaymentMethod:  req.PaymentMethod,
			IdempotencyKey: key,
		})
		if err != nil {
			c.JSON(errs.Response(err))
			return
		}
		// declined payments are a result, not an error: still 200
		c.JSON(http.StatusOK, res)
	})

	r.GET("/payments/:id", func(c *gin.Context) {
		rec, err := store.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(errs.Response(err))
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "payment_not_found"})
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.GET("/payments/by-order/:orderID", func(c *gin.Context) {
		recs, err := store.ListByOrder(c.Request.Context(), c.Param("orderID"))
		if err != nil {
			c.JSON(errs.Response(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"payments": recs})
	})
}

package orders

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imkarn/go-saga-fulfillment/internal/errs"
	"github.com/imkarn/go-saga-fulfillment/internal/validation"
)

// RegisterRoutes registers the order API on r.
func RegisterRoutes(r *gin.Engine, saga *Saga) {
	v := validation.New()

	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		res, err := saga.CreateOrder(ctx, req.CustomerID, req.ProductID, req.Quantity)
		if err != nil {
			c.JSON(errs.Response(err))
			return
		}
		if res.Duplicate {
			// identical request inside the duplicate window; answer with
			// the existing order instead of creating another one
			c.JSON(http.StatusOK, res)
			return
		}
		c.JSON(http.StatusCreated, res)
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		order, err := saga.GetOrder(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(errs.Response(err))
			return
		}
		c.JSON(http.StatusOK, order)
	})

	r.POST("/orders/:id/cancel", func(c *gin.Context) {
		order, err := saga.CancelOrder(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(errs.Response(err))
			return
		}
		c.JSON(http.StatusOK, order)
	})
}

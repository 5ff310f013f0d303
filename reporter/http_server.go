// This is a http type of reporter.
// It starts checkouts, reports their sessions and orders
// and publishes the metrics on the http routes.

package reporter

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/checkout"
	"github.com/shopkit/checkout-go/checkoutdb"
)

const (
	ROUTE_HELLO          = "/hello"
	ROUTE_CHECKOUT       = "/checkout"
	ROUTE_SESSION        = "/session"
	ROUTE_SESSION_CANCEL = "/session/cancel"
	ROUTE_ORDER          = "/order"
	ROUTE_NOTIFICATIONS  = "/order/notifications"
	ROUTE_METRICS        = "/metrics"
)

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	service *checkout.Service
	db      *checkoutdb.CheckoutDB
}

func NewHttpReporter(serverIP string, serverPort string, service *checkout.Service, db *checkoutdb.CheckoutDB) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		service:    service,
		db:         db,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET(ROUTE_HELLO, Hello)
	router.POST(ROUTE_CHECKOUT, h.Checkout)
	router.GET(ROUTE_SESSION, h.Session)
	router.POST(ROUTE_SESSION_CANCEL, h.CancelSession)
	router.GET(ROUTE_ORDER, h.Order)
	router.GET(ROUTE_NOTIFICATIONS, h.Notifications)
	router.GET(ROUTE_METRICS, gin.WrapH(promhttp.Handler()))

	return router
}

// Hook up router & ip:port
func (h *HttpReporter) Run() {
	router := h.SetupRouter()
	address := h.serverIP + ":" + h.serverPort
	if err := router.Run(address); err != nil {
		logger.Fatalf("http reporter stopped: err=%v", err)
	}
}

// Liveness route.
func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

// Checkout opens a session for the posted cart and waits for its payment
// in the background. The buyer pays the returned invoice.
func (h *HttpReporter) Checkout(c *gin.Context) {
	var req checkout.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.service.Start(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, agreement.ErrInvalidOrder) || errors.Is(err, checkout.ErrEmptyCart) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.service.Go(sess.Id)

	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.Id,
		"invoice":    sess.Invoice,
		"amount":     sess.Amount,
	})
}

func (h *HttpReporter) Session(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be provided"})
		return
	}

	sess, orders, err := h.service.Status(id)
	if err != nil {
		if errors.Is(err, checkout.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No session found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"session": sess, "orders": orders}})
}

func (h *HttpReporter) CancelSession(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be provided"})
		return
	}

	switch err := h.service.Cancel(id); {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"data": "cancelled"})
	case errors.Is(err, checkout.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "No session found"})
	case errors.Is(err, checkout.ErrSessionFinal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *HttpReporter) Order(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be provided"})
		return
	}

	order, ok, err := h.db.GetOrder(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No order found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (h *HttpReporter) Notifications(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be provided"})
		return
	}

	records, err := h.db.GetNotifications(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(records) > 0 {
		c.JSON(http.StatusOK, gin.H{"data": records})
	} else {
		c.JSON(http.StatusNotFound, gin.H{"error": "No notification found"})
	}
}

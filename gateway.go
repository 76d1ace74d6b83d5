package canmon

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Gateway exposes the monitor state over HTTP: the live message table, the
// interface roster and Prometheus metrics. Read only, it never touches the
// bus.
type Gateway struct {
	mux    *Mux
	table  *MessageTable
	server *http.Server
}

func NewGateway(mux *Mux, table *MessageTable) *Gateway {
	gateway := &Gateway{mux: mux, table: table}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/api/interfaces", gateway.handleInterfaces)
	router.GET("/api/messages", gateway.handleMessages)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	gateway.server = &http.Server{Handler: router}
	return gateway
}

func (gateway *Gateway) handleInterfaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"interfaces": gateway.mux.ActiveInterfaces(),
		"queued":     gateway.mux.QueueLen(),
	})
}

func (gateway *Gateway) handleMessages(c *gin.Context) {
	now := time.Now()
	snapshot := gateway.table.Snapshot()
	messages := make([]gin.H, 0, len(snapshot))
	for i := range snapshot {
		msg := &snapshot[i]
		messages = append(messages, gin.H{
			"cob_id":      msg.ID,
			"interface":   msg.Interface,
			"type":        msg.Type.String(),
			"node":        msg.Node,
			"description": msg.Description,
			"status":      msg.Status(now).String(),
			"degraded":    msg.Degraded,
			"timestamp":   msg.Timestamp,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Listen serves HTTP on the given address until Close is called.
func (gateway *Gateway) Listen(addr string) error {
	gateway.server.Addr = addr
	log.Infof("[GATEWAY] listening on %v", addr)
	err := gateway.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (gateway *Gateway) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return gateway.server.Shutdown(ctx)
}

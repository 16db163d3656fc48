package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/nodectl/internal/observability"
	"github.com/danmuck/nodectl/internal/rpc"
	"github.com/danmuck/nodectl/internal/startup"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultLogBytes = 4096
	maxRPCBody      = 1 << 20
	rpcTimeout      = 30 * time.Second
	actionTimeout   = 3 * time.Minute
)

func (s *Server) registerRoutes() {
	r := s.router

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.appeared).String(),
			"component": "nodectl-admin",
			"version":   version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.backend.Status())
	})

	r.GET("/node/log", func(c *gin.Context) {
		maxBytes := defaultLogBytes
		if raw := c.Query("bytes"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bytes must be a non-negative integer"})
				return
			}
			maxBytes = n
		}
		c.String(http.StatusOK, s.backend.NodeLog(maxBytes))
	})

	r.GET("/clients", func(c *gin.Context) {
		session := s.backend.Session()
		if session == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"clients": session.Mux.Clients(),
			"pending": session.Mux.Pending(),
		})
	})

	r.POST("/rpc", s.handleRPC)

	r.POST("/onboarding/network", func(c *gin.Context) {
		var body struct {
			Network string `json:"network"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Network == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "network is required"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), actionTimeout)
		defer cancel()
		if err := s.backend.ChangeNetwork(ctx, body.Network); err != nil {
			c.JSON(actionStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "network": body.Network})
	})

	r.POST("/onboarding/launch", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), actionTimeout)
		defer cancel()
		if err := s.backend.Launch(ctx); err != nil {
			c.JSON(actionStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func actionStatus(err error) int {
	if errors.Is(err, startup.ErrNotOnboarding) || errors.Is(err, startup.ErrUnmanagedNode) {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

// handleRPC forwards a JSON-RPC request or batch over the session. Each HTTP
// request is its own mux client.
func (s *Server) handleRPC(c *gin.Context) {
	session := s.backend.Session()
	if session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no session"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRPCBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
		return
	}

	client, err := session.Mux.Register(c.GetHeader(observability.ClientHeader))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(c.Request.Context(), rpcTimeout)
	defer cancel()

	if body[0] == '[' {
		var reqs []rpc.Message
		if err := json.Unmarshal(body, &reqs); err != nil {
			c.JSON(http.StatusOK, rpc.ErrorResponse(nil, rpc.CodeInvalidRequest, err))
			return
		}
		out, err := client.RequestBatch(ctx, reqs)
		if err != nil {
			c.JSON(http.StatusOK, rpc.ErrorResponse(nil, rpc.CodeInvalidRequest, err))
			return
		}
		c.JSON(http.StatusOK, out)
		return
	}

	var req rpc.Message
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusOK, rpc.ErrorResponse(nil, rpc.CodeInvalidRequest, err))
		return
	}
	resp, err := client.Request(ctx, req)
	if err != nil {
		c.JSON(http.StatusOK, rpc.ErrorResponse(req.ID, rpc.ErrorCode(err), err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

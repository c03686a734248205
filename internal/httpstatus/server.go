// Package httpstatus serves the call status over HTTP for local tooling.
package httpstatus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/1ureka/duocall/internal/util"
)

// NewRouter builds the gin engine serving rec.
func NewRouter(rec *Recorder, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if debug {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", func(c *gin.Context) {
		st, ok := rec.Status()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no call started yet"})
			return
		}
		c.JSON(http.StatusOK, st)
	})

	r.GET("/log", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"lines": rec.Lines()})
	})

	return r
}

// Server runs the status router until its context ends.
type Server struct {
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// Start listens on addr and serves rec in the background. The server shuts
// down when ctx is cancelled or Close is called.
func Start(ctx context.Context, addr string, rec *Recorder, debug bool) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start status server: %w", err)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           NewRouter(rec, debug),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogWarning("status server stopped: %v", err)
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	util.LogInfo("status endpoint listening on http://%s/status", listener.Addr())
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}

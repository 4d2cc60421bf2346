// Package web serves the browser client: static files in production, a
// reverse proxy to the frontend dev server during development.
package web

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coday/coday/internal/common/config"
	"github.com/coday/coday/internal/common/logger"
)

// Register mounts the client on the router's NoRoute fallback, keeping /api
// and /health for the server itself.
func Register(router *gin.Engine, cfg config.WebConfig, log *logger.Logger) error {
	if strings.EqualFold(cfg.BuildEnv, "development") {
		target, err := url.Parse(cfg.DevProxyURL)
		if err != nil {
			return err
		}
		proxy := httputil.NewSingleHostReverseProxy(target)
		log.Info("dev proxy enabled", zap.String("target", cfg.DevProxyURL))

		router.NoRoute(func(c *gin.Context) {
			if isServerPath(c.Request.URL.Path) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			proxy.ServeHTTP(c.Writer, c.Request)
		})
		return nil
	}

	if cfg.ClientPath == "" {
		return nil
	}

	clientPath := cfg.ClientPath
	log.Info("serving static client", zap.String("path", clientPath))

	router.NoRoute(func(c *gin.Context) {
		if isServerPath(c.Request.URL.Path) || c.Request.Method != http.MethodGet {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		requested := filepath.Join(clientPath, filepath.Clean("/"+c.Request.URL.Path))
		if info, err := os.Stat(requested); err == nil && !info.IsDir() {
			c.File(requested)
			return
		}
		// Client-side routing: unknown paths fall back to the app shell.
		c.File(filepath.Join(clientPath, "index.html"))
	})
	return nil
}

func isServerPath(path string) bool {
	return strings.HasPrefix(path, "/api/") || path == "/api" || path == "/health"
}

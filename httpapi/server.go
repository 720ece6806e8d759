// Package httpapi exposes the management and invocation endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/geoffsee/polyfaas/executor"
	"github.com/geoffsee/polyfaas/store"
)

// InvokeTimeoutMillis bounds every HTTP-dispatched invocation.
const InvokeTimeoutMillis = 5000

// Server wires the stores and the invocation engine behind the REST surface.
type Server struct {
	assets    *store.AssetStore
	resources *store.ResourceStore
	engine    *executor.Engine
	log       *slog.Logger
	cwd       string
}

func New(assets *store.AssetStore, resources *store.ResourceStore, engine *executor.Engine, log *slog.Logger, cwd string) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{assets: assets, resources: resources, engine: engine, log: log, cwd: cwd}
}

// Router builds the gin engine. Wrong methods yield 405, uncaught failures
// 500 with a JSON error body, and every request carries a synthetic id
// through the logs.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(s.requestLog(), s.recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	r.POST("/functions", s.uploadFunction)
	r.GET("/functions", s.listFunctions)
	r.POST("/invoke/:id", s.invoke)
	r.POST("/invoke", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "function id required"})
	})
	r.POST("/resources", s.createResource)
	r.GET("/resources", s.listResources)
	r.POST("/resources/:id/owners", s.attachOwner)

	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := uuid.NewString()
		c.Set("request_id", reqID)
		start := time.Now()
		c.Next()
		s.log.Info("request",
			"id", reqID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("handler panic", "id", c.GetString("request_id"), "panic", fmt.Sprint(r))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprint(r)})
			}
		}()
		c.Next()
	}
}

func (s *Server) uploadFunction(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	manifest, err := store.ParseManifest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if manifest.LanguageID != "" && !s.engine.Supports(manifest.LanguageID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unrecognized languageId %q", manifest.LanguageID)})
		return
	}
	asset, err := store.ToAsset(s.cwd, manifest)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.assets.Save(asset); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("function uploaded", "id", c.GetString("request_id"), "function", asset.ID, "language", asset.LanguageID)
	c.JSON(http.StatusCreated, gin.H{
		"id":             asset.ID,
		"languageId":     asset.LanguageID,
		"functionName":   asset.FunctionName,
		"jsEvalAsModule": asset.JSEvalAsModule,
		"dependencies":   asset.DependencyNames(),
	})
}

func (s *Server) listFunctions(c *gin.Context) {
	assets, err := s.assets.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(assets))
	for _, a := range assets {
		out = append(out, gin.H{
			"id":             a.ID,
			"languageId":     a.LanguageID,
			"functionName":   a.FunctionName,
			"jsEvalAsModule": a.JSEvalAsModule,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) invoke(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "function id required"})
		return
	}
	asset, ok, err := s.assets.Load(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("function %s not found", id)})
		return
	}

	// Empty and malformed bodies both invoke with an empty event.
	event := map[string]any{}
	if body, readErr := io.ReadAll(c.Request.Body); readErr == nil && len(body) > 0 {
		if jsonErr := json.Unmarshal(body, &event); jsonErr != nil {
			event = map[string]any{}
		}
	}

	platform, err := s.resources.PlatformForFunction(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.Invoke(c.Request.Context(), &executor.Request{
		LanguageID:     asset.LanguageID,
		SourceCode:     asset.SourceCode,
		FunctionName:   asset.FunctionName,
		Event:          event,
		Dependencies:   asset.Dependencies,
		JSEvalAsModule: asset.JSEvalAsModule,
		TimeoutMillis:  InvokeTimeoutMillis,
		EnableNetwork:  true,
		Platform:       platform,
	})
	if err != nil {
		s.log.Warn("invocation failed", "id", c.GetString("request_id"), "function", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type createResourceRequest struct {
	Type   string            `json:"type"`
	Owners []string          `json:"owners"`
	Config map[string]string `json:"config"`
}

func (s *Server) createResource(c *gin.Context) {
	var req createResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type required"})
		return
	}
	r, err := s.resources.Create(req.Type, req.Owners, req.Config)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": r.ID, "type": r.Type, "owners": r.Owners})
}

func (s *Server) listResources(c *gin.Context) {
	records, err := s.resources.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(records))
	for _, r := range records {
		out = append(out, gin.H{"id": r.ID, "type": r.Type, "owners": r.Owners})
	}
	c.JSON(http.StatusOK, out)
}

type attachOwnerRequest struct {
	FunctionID string `json:"functionId"`
}

func (s *Server) attachOwner(c *gin.Context) {
	id := c.Param("id")
	var req attachOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.FunctionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "functionId required"})
		return
	}
	r, err := s.resources.AttachOwner(id, req.FunctionID)
	if err != nil {
		if errors.Is(err, store.ErrResourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": r.ID, "type": r.Type, "owners": r.Owners})
}

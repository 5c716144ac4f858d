package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/khryptorgraphics/imagepipe/pkg/auth"
	"github.com/khryptorgraphics/imagepipe/pkg/pipeline"
)

// healthHandler reports liveness; it does not probe the pipeline's caches
// since those degrade gracefully on their own (SPEC_FULL.md §4).
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// issueTokenHandler mints a bearer token for the requested role, gated by
// the shared admin secret. There is no concept of caller-managed accounts
// in this gateway — a caller either knows the secret or it doesn't get a
// token (SPEC_FULL.md §4, replacing the teacher's username/password login).
func (s *Server) issueTokenHandler(c *gin.Context) {
	var req struct {
		ClientID string `json:"client_id" binding:"required"`
		Role     string `json:"role" binding:"required"`
		Secret   string `json:"secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(s.config.Auth.SecretKey)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_secret"})
		return
	}
	permissions := auth.GetRolePermissions(req.Role)
	if len(permissions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_role", "role": req.Role})
		return
	}

	if _, err := s.rbac.GetUser(req.ClientID); err != nil {
		_ = s.rbac.CreateUser(&auth.User{
			ID:     req.ClientID,
			Roles:  []string{req.Role},
			Active: true,
		})
	}

	tokens, err := s.jwtSvc.GenerateToken(req.ClientID, req.ClientID, req.Role, permissions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_generation_failed"})
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// imageRequestBody is the wire shape of a load request.
type imageRequestBody struct {
	URL         string   `json:"url" binding:"required"`
	Processors  []string `json:"processors"`
	Priority    string   `json:"priority"`
	CachePolicy string   `json:"cache_policy"`
}

func (b imageRequestBody) toImageRequest(resolve func(name string) pipeline.Processor) pipeline.ImageRequest {
	req := pipeline.NewImageRequest(b.URL)
	req.Priority = parsePriority(b.Priority)
	if b.CachePolicy == "reload" {
		req.Options.CachePolicy = pipeline.CachePolicyReload
	}
	if resolve != nil {
		procs := make([]pipeline.Processor, 0, len(b.Processors))
		for _, name := range b.Processors {
			if p := resolve(name); p != nil {
				procs = append(procs, p)
			}
		}
		req.Processors = procs
	}
	return req
}

func parsePriority(s string) pipeline.Priority {
	switch s {
	case "veryLow":
		return pipeline.PriorityVeryLow
	case "low":
		return pipeline.PriorityLow
	case "high":
		return pipeline.PriorityHigh
	case "veryHigh":
		return pipeline.PriorityVeryHigh
	default:
		return pipeline.PriorityNormal
	}
}

// loadImageHandler starts an image load and streams its progress over
// /ws/progress/:taskID; the HTTP response only carries the task handle
// (SPEC_FULL.md §4).
func (s *Server) loadImageHandler(c *gin.Context) {
	var body imageRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	req := body.toImageRequest(nil)
	taskID := uuid.New().String()
	stream := s.progress.open(taskID)

	task := s.pipeline.LoadImage(req, pipeline.ImageHandlers{
		OnPreview: func(resp pipeline.ImageResponse) {
			stream.send(progressMessage{Type: "preview"})
		},
		OnProgress: func(completed, total int64) {
			stream.send(progressMessage{Type: "progress", Completed: completed, Total: total})
		},
		OnComplete: func(resp pipeline.ImageResponse) {
			stream.send(progressMessage{
				Type:   "complete",
				Width:  resp.Container.Image.WidthOrZero(),
				Height: resp.Container.Image.HeightOrZero(),
			})
			stream.close()
		},
		OnError: func(err error) {
			stream.send(progressMessage{Type: "error", Error: err.Error()})
			stream.close()
		},
	})
	s.progress.bind(taskID, task)

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":      taskID,
		"progress_url": "/ws/progress/" + taskID,
	})
}

// loadDataHandler is the raw-bytes counterpart of loadImageHandler
// (SPEC_FULL.md §4's data-only load path).
func (s *Server) loadDataHandler(c *gin.Context) {
	var body imageRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	req := body.toImageRequest(nil)
	taskID := uuid.New().String()
	stream := s.progress.open(taskID)

	task := s.pipeline.LoadData(req,
		func(completed, total int64) {
			stream.send(progressMessage{Type: "progress", Completed: completed, Total: total})
		},
		func(result pipeline.DataResult) {
			stream.send(progressMessage{Type: "complete", Bytes: len(result.Data)})
			stream.close()
		},
		func(err error) {
			stream.send(progressMessage{Type: "error", Error: err.Error()})
			stream.close()
		},
	)
	s.progress.bindData(taskID, task)

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":      taskID,
		"progress_url": "/ws/progress/" + taskID,
	})
}

// getCachedImageHandler is a synchronous, cache-only lookup — it never
// starts a load (SPEC_FULL.md §4).
func (s *Server) getCachedImageHandler(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_url"})
		return
	}
	req := pipeline.NewImageRequest(url)
	container, ok := s.pipeline.CachedImage(req)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"cached": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cached": true,
		"width":  container.Image.WidthOrZero(),
		"height": container.Image.HeightOrZero(),
	})
}

func (s *Server) removeCachedImageHandler(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_url"})
		return
	}
	s.pipeline.RemoveCachedImage(pipeline.NewImageRequest(url))
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// startPrefetchHandler kicks off background, cache-only loads for a batch
// of URLs (spec.md §4.9).
func (s *Server) startPrefetchHandler(c *gin.Context) {
	var body struct {
		URLs []string `json:"urls" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	requests := make([]pipeline.ImageRequest, 0, len(body.URLs))
	for _, url := range body.URLs {
		requests = append(requests, pipeline.NewImageRequest(url))
	}
	s.prefetcher.StartPrefetching(requests)
	c.JSON(http.StatusAccepted, gin.H{"started": len(requests)})
}

func (s *Server) stopPrefetchHandler(c *gin.Context) {
	var body struct {
		URLs []string `json:"urls" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	requests := make([]pipeline.ImageRequest, 0, len(body.URLs))
	for _, url := range body.URLs {
		requests = append(requests, pipeline.NewImageRequest(url))
	}
	s.prefetcher.StopPrefetching(requests)
	c.JSON(http.StatusOK, gin.H{"stopped": len(requests)})
}

func (s *Server) cacheStatsHandler(c *gin.Context) {
	stats := s.pipeline.CacheStats()
	c.JSON(http.StatusOK, gin.H{
		"prefetch_in_flight": s.prefetcher.InFlight(),
		"memory_cache": gin.H{
			"entries": stats.MemoryEntryCount,
			"cost":    stats.MemoryTotalCost,
		},
		"final_image_cache": gin.H{
			"directory": stats.FinalImageCache.Directory,
			"entries":   stats.FinalImageCache.EntryCount,
			"bytes":     stats.FinalImageCache.TotalBytes,
		},
		"original_data_cache": gin.H{
			"directory": stats.OriginalDataCache.Directory,
			"entries":   stats.OriginalDataCache.EntryCount,
			"bytes":     stats.OriginalDataCache.TotalBytes,
		},
	})
}

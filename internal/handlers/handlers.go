package handlers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/cutout/internal/usecase"
)

// Options carries the edge validation rules and static roots.
type Options struct {
	MaxUploadSize     int64
	AllowedExtensions []string
	DefaultProvider   string
	Providers         []string
	DefaultModel      string
	UploadDir         string
	ResultDir         string
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.ProcessUseCase, opts Options) {
	if opts.UploadDir != "" {
		router.Static("/static/uploads", opts.UploadDir)
	}
	if opts.ResultDir != "" {
		router.Static("/static/results", opts.ResultDir)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/providers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"default":   opts.DefaultProvider,
			"providers": opts.Providers,
		})
	})

	router.POST("/process/api", func(c *gin.Context) {
		upload, ok := readUpload(c, opts)
		if !ok {
			return
		}

		providerName := c.DefaultPostForm("provider", opts.DefaultProvider)
		result, err := uc.ProcessRemote(c.Request.Context(), upload, providerName)
		if err != nil {
			respondProcessError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	router.POST("/process/local", func(c *gin.Context) {
		upload, ok := readUpload(c, opts)
		if !ok {
			return
		}

		modelName := c.DefaultPostForm("model", opts.DefaultModel)
		result, err := uc.ProcessLocal(c.Request.Context(), upload, modelName)
		if err != nil {
			respondProcessError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	router.GET("/jobs/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		job, err := uc.GetJob(c.Request.Context(), requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": job.RequestID,
			"mode":       job.Mode,
			"provider":   job.Provider,
			"model":      job.Model,
			"engine":     job.Engine,
			"before":     job.BeforeURL,
			"after":      job.AfterURL,
			"latency_ms": job.LatencyMs,
			"success":    job.Success,
			"created_at": job.CreatedAt,
		})
	})

	router.GET("/jobs/:id/duplicates", func(c *gin.Context) {
		requestID := c.Param("id")
		report, err := uc.GetDuplicateReport(c.Request.Context(), requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}

		duplicates := make([]gin.H, 0, len(report.Duplicates))
		for _, dup := range report.Duplicates {
			duplicates = append(duplicates, gin.H{
				"request_id": dup.RequestID,
				"mode":       dup.Mode,
				"engine":     dup.Engine,
				"after":      dup.AfterURL,
				"created_at": dup.CreatedAt,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": report.Request.RequestID,
			"sha1_hash":  report.Request.SHA1Hash,
			"duplicates": duplicates,
		})
	})

	router.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// readUpload validates and reads the multipart image field. On failure it
// writes the error response and returns ok=false.
func readUpload(c *gin.Context, opts Options) (usecase.Upload, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return usecase.Upload{}, false
	}
	if file.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename is required"})
		return usecase.Upload{}, false
	}
	if opts.MaxUploadSize > 0 && file.Size > opts.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds upload limit"})
		return usecase.Upload{}, false
	}
	if !allowedExtension(file.Filename, opts.AllowedExtensions) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported file type"})
		return usecase.Upload{}, false
	}
	if !allowedContentType(file.Header.Get("Content-Type")) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type"})
		return usecase.Upload{}, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return usecase.Upload{}, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return usecase.Upload{}, false
	}

	return usecase.Upload{Filename: file.Filename, Data: data}, true
}

func respondProcessError(c *gin.Context, err error) {
	if errors.Is(err, usecase.ErrUndecodableImage) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "image could not be decoded"})
		return
	}
	// Internals are already logged with request context; don't leak them.
	c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
}

// allowedContentType accepts image parts and the generic types most clients
// send when they do not sniff the file. The decode step is the real check.
func allowedContentType(contentType string) bool {
	if contentType == "" || contentType == "application/octet-stream" {
		return true
	}
	return strings.HasPrefix(contentType, "image/")
}

func allowedExtension(filename string, allowed []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return false
	}
	for _, candidate := range allowed {
		if ext == candidate {
			return true
		}
	}
	return false
}

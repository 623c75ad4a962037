package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"docconvert/jobs"
	"docconvert/limiter"
	"docconvert/metrics"
	"docconvert/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// API exposes submission, status and download over HTTP.
type API struct {
	jobs           *jobs.Service
	limiter        *limiter.Limiter
	clientKey      KeyFunc
	metrics        *metrics.Recorder
	maxUploadBytes int64
	logger         logrus.FieldLogger
}

type Options struct {
	MaxUploadBytes int64
	// TrustForwarded keys the rate limit on X-Forwarded-For instead of the
	// connection address.
	TrustForwarded bool
}

func NewAPI(svc *jobs.Service, lim *limiter.Limiter, rec *metrics.Recorder, opts Options, logger logrus.FieldLogger) *API {
	key := RemoteIPKey
	if opts.TrustForwarded {
		key = ForwardedIPKey
	}
	return &API{
		jobs:           svc,
		limiter:        lim,
		clientKey:      key,
		metrics:        rec,
		maxUploadBytes: opts.MaxUploadBytes,
		logger:         logger,
	}
}

// SetupRoutes configures all API routes
func (a *API) SetupRoutes(router *gin.Engine) {
	documents := router.Group("/documents")
	documents.POST("/convert", RateLimit(a.limiter, a.clientKey), a.submitConversion)
	documents.GET("/:id/status", a.getStatus)
	documents.GET("/:id/download", a.download)

	router.GET("/health", a.healthCheck)
	router.GET("/stats", a.getStats)
}

// submitConversion handles POST /documents/convert
func (a *API) submitConversion(c *gin.Context) {
	if a.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUploadBytes)
	}

	sub := jobs.Submission{}
	fileHeader, err := c.FormFile("file")
	switch {
	case err == nil:
		if sub.Content, err = readUpload(fileHeader); err != nil {
			a.fail(c, err)
			return
		}
		sub.FileName = fileHeader.Filename
	case isTooLarge(err):
		a.fail(c, errUploadTooLarge)
		return
	}
	// A missing or unparsable file part is reported by validation.
	sub.TargetFormat = c.PostForm("targetFormat")

	job, err := a.jobs.Submit(c.Request.Context(), sub)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job.StatusView())
}

// getStatus handles GET /documents/:id/status
func (a *API) getStatus(c *gin.Context) {
	id, ok := a.documentID(c)
	if !ok {
		return
	}
	view, err := a.jobs.Status(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// download handles GET /documents/:id/download
func (a *API) download(c *gin.Context) {
	id, ok := a.documentID(c)
	if !ok {
		return
	}
	dl, err := a.jobs.Download(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	fileName := dl.FileName
	if fileName == "" {
		fileName = "converted-document"
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, fileName))
	c.Data(http.StatusOK, "application/octet-stream", dl.Data)
}

// healthCheck handles GET /health
func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// getStats handles GET /stats
func (a *API) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.metrics.Snapshot())
}

func (a *API) documentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		verr := &models.ValidationError{}
		verr.Add("documentId", "Invalid document id")
		a.fail(c, verr)
		return uuid.Nil, false
	}
	return id, true
}

func (a *API) fail(c *gin.Context, err error) {
	if status, _ := classify(err); status >= http.StatusInternalServerError {
		a.logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	abortWithError(c, err)
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if isTooLarge(err) {
		return nil, errUploadTooLarge
	}
	return data, err
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

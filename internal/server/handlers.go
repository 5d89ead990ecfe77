package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/PentesterFlow/OpenScraper/internal/archive"
	apperrors "github.com/PentesterFlow/OpenScraper/internal/errors"
	"github.com/PentesterFlow/OpenScraper/pkg/analysis"
	"github.com/PentesterFlow/OpenScraper/pkg/scraper"
)

const (
	msgScrapeFailed = "An error occurred during scraping"
	msgInvalidURL   = "Invalid URL"
	msgUnavailable  = "Service temporarily unavailable"
	msgTooMany      = "Too many requests"

	captureIDHeader = "X-Capture-ID"

	defaultListLimit = 50
	maxListLimit     = 1000
)

// scrapeRequest is accepted as JSON or as a urlencoded form.
type scrapeRequest struct {
	URL string `json:"url" form:"url"`
}

// DetailedResponse is the body of a successful detailed scrape.
type DetailedResponse struct {
	NetworkMap         []analysis.NetworkMapEntry  `json:"networkMap"`
	HeadersInfo        []analysis.HeaderIndexEntry `json:"headersInfo"`
	PerformanceMetrics analysis.PerformanceMetrics `json:"performanceMetrics"`
	RenderedContent    string                      `json:"renderedContent"`
	Content            string                      `json:"content"`
}

// SimpleResponse is the body of a successful simple scrape.
type SimpleResponse struct {
	RenderedContent string `json:"renderedContent"`
}

// NewDetailedResponse shapes res for the wire. The raw HTML is base64
// encoded.
func NewDetailedResponse(res *scraper.DetailedResult) DetailedResponse {
	return DetailedResponse{
		NetworkMap:         res.Analysis.NetworkMap,
		HeadersInfo:        res.Analysis.HeadersInfo,
		PerformanceMetrics: res.Analysis.PerformanceMetrics,
		RenderedContent:    res.RenderedContent,
		Content:            base64.StdEncoding.EncodeToString([]byte(res.RawHTML)),
	}
}

// requestURL returns the url field of the body. An unreadable body counts
// as a missing url.
func requestURL(c *gin.Context) string {
	var req scrapeRequest
	if err := c.ShouldBind(&req); err != nil {
		return ""
	}
	return req.URL
}

func (s *Server) detailedScrape(c *gin.Context) {
	res, err := s.scraper.Detailed(c.Request.Context(), requestURL(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	if res.CaptureID != "" {
		c.Header(captureIDHeader, res.CaptureID)
	}
	c.JSON(http.StatusOK, NewDetailedResponse(res))
}

func (s *Server) simpleScrape(c *gin.Context) {
	res, err := s.scraper.Simple(c.Request.Context(), requestURL(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SimpleResponse{RenderedContent: res.RenderedContent})
}

// writeError maps a scrape failure to a plain text response. Internal
// details stay in the logs.
func (s *Server) writeError(c *gin.Context, err error) {
	var open *apperrors.CircuitOpenError
	var se *apperrors.ScrapeError

	switch {
	case errors.As(err, &open):
		c.String(http.StatusServiceUnavailable, msgUnavailable)
	case errors.As(err, &se) && se.Type == apperrors.Validation:
		if se.Message == scraper.MsgURLRequired {
			c.String(http.StatusBadRequest, scraper.MsgURLRequired)
			return
		}
		c.String(http.StatusBadRequest, msgInvalidURL)
	case errors.As(err, &se) && se.Type == apperrors.RateLimit:
		c.Header("Retry-After", "1")
		c.String(http.StatusTooManyRequests, msgTooMany)
	default:
		c.String(http.StatusInternalServerError, msgScrapeFailed)
	}
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"version": scraper.Version,
	}

	pool, ok := s.scraper.PoolStats()
	if ok {
		body["pool"] = pool
		if pool.Closed {
			body["status"] = "unavailable"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.scraper.Stats())
}

func (s *Server) metrics(c *gin.Context) {
	if pool, ok := s.scraper.PoolStats(); ok {
		s.scraper.Metrics().SetBrowserPoolStats(int64(pool.Size), int64(pool.InUse))
	}
	s.promHTTP.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) listCaptures(c *gin.Context) {
	store, ok := s.archiveOrAbort(c)
	if !ok {
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	records, err := store.List(limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list captures")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list captures"})
		return
	}
	if records == nil {
		records = []archive.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"captures": records, "total": store.Count()})
}

func (s *Server) getCapture(c *gin.Context) {
	store, ok := s.archiveOrAbort(c)
	if !ok {
		return
	}

	data, err := store.HAR(c.Param("id"))
	if err != nil {
		s.captureError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) deleteCapture(c *gin.Context) {
	store, ok := s.archiveOrAbort(c)
	if !ok {
		return
	}

	if err := store.Delete(c.Param("id")); err != nil {
		s.captureError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) captureError(c *gin.Context, err error) {
	if errors.Is(err, archive.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "capture not found"})
		return
	}
	s.logger.WithError(err).Error("Capture archive read failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "capture archive unavailable"})
}

func (s *Server) archiveOrAbort(c *gin.Context) (*archive.Store, bool) {
	store := s.scraper.Archive()
	if store == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "capture archive is disabled"})
		return nil, false
	}
	return store, true
}

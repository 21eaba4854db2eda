package batches

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"taxrecovery-backend/internal/documents"
	"taxrecovery-backend/internal/queue"
	"taxrecovery-backend/internal/shared/server/middleware"
	"taxrecovery-backend/internal/shared/server/respond"
)

// maxUploadSize caps the whole multipart request body.
const maxUploadSize = int64(MaxBatchFiles) * MaxFileSize

// Handler wires batch HTTP routes to the service.
type Handler struct {
	Svc      *Service
	DocQueue *queue.Queue
	ConQueue *queue.Queue
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, docQueue, conQueue *queue.Queue) *Handler {
	return &Handler{Svc: svc, DocQueue: docQueue, ConQueue: conQueue}
}

// RegisterRoutes attaches batch routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/batch/upload", h.upload)
	rg.GET("/batch/:id/status", h.status)
	rg.GET("/batch/:id/report", h.report)
	rg.GET("/batch", h.list)
	rg.DELETE("/batch/:id", h.delete)
	rg.GET("/queue/stats", h.queueStats)
}

func (h *Handler) upload(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	form, err := c.MultipartForm()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid multipart form", nil)
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		fileHeaders = form.File["file"]
	}
	if len(fileHeaders) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "at least one file is required", nil)
		return
	}

	documentType := strings.TrimSpace(c.PostForm("documentType"))
	company := companyFromForm(c)
	name := strings.TrimSpace(c.PostForm("name"))

	files := make([]documents.UploadFile, 0, len(fileHeaders))
	var closers []interface{ Close() error }
	defer func() {
		for _, f := range closers {
			f.Close()
		}
	}()
	for _, fh := range fileHeaders {
		file, err := fh.Open()
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read "+fh.Filename, nil)
			return
		}
		closers = append(closers, file)
		files = append(files, documents.UploadFile{
			FileName:  fh.Filename,
			MimeType:  fh.Header.Get("Content-Type"),
			SizeBytes: fh.Size,
			Reader:    file,
		})
	}

	batch, docs, err := h.Svc.CreateBatch(c.Request.Context(), userID, name, documentType, company, files)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to create batch", nil)
		}
		return
	}

	respond.JSON(c, http.StatusCreated, gin.H{
		"batchJobId":     batch.ID,
		"totalDocuments": batch.TotalDocuments,
		"documents":      docs,
	})
}

func (h *Handler) status(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	status, err := h.Svc.GetStatus(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.renderError(c, err, "failed to load batch status")
		return
	}
	respond.OK(c, status)
}

func (h *Handler) report(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	report, err := h.Svc.GetReport(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.renderError(c, err, "failed to load batch report")
		return
	}
	c.Data(http.StatusOK, "application/json", report)
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "pageSize", 20)
	status := strings.TrimSpace(c.Query("status"))

	batches, total, err := h.Svc.List(c.Request.Context(), userID, status, page, pageSize)
	if err != nil {
		h.renderError(c, err, "failed to list batches")
		return
	}
	if batches == nil {
		batches = []Batch{}
	}
	respond.OK(c, gin.H{
		"batches":  batches,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

func (h *Handler) delete(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if err := h.Svc.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.renderError(c, err, "failed to delete batch")
		return
	}
	respond.OK(c, gin.H{"deleted": true})
}

func (h *Handler) queueStats(c *gin.Context) {
	ctx := c.Request.Context()

	docCounts, err := h.DocQueue.Stats(ctx)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load queue stats", nil)
		return
	}
	conCounts, err := h.ConQueue.Stats(ctx)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load queue stats", nil)
		return
	}

	combined := queue.Counts{
		Waiting:   docCounts.Waiting + conCounts.Waiting,
		Active:    docCounts.Active + conCounts.Active,
		Completed: docCounts.Completed + conCounts.Completed,
		Failed:    docCounts.Failed + conCounts.Failed,
		Delayed:   docCounts.Delayed + conCounts.Delayed,
	}
	combined.Total = combined.Waiting + combined.Active + combined.Completed + combined.Failed + combined.Delayed

	respond.OK(c, gin.H{
		"waiting":   combined.Waiting,
		"active":    combined.Active,
		"completed": combined.Completed,
		"failed":    combined.Failed,
		"delayed":   combined.Delayed,
		"total":     combined.Total,
		"queues": gin.H{
			h.DocQueue.Name(): docCounts,
			h.ConQueue.Name(): conCounts,
		},
	})
}

func (h *Handler) renderError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, documents.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "batch not found", nil)
	case errors.Is(err, ErrNotCompleted):
		respond.Error(c, http.StatusBadRequest, "batch_not_completed", "batch is not completed yet", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

func companyFromForm(c *gin.Context) *documents.CompanyInfo {
	info := documents.CompanyInfo{
		Name:   strings.TrimSpace(c.PostForm("companyName")),
		CNPJ:   strings.TrimSpace(c.PostForm("companyCnpj")),
		Regime: strings.TrimSpace(c.PostForm("companyRegime")),
	}
	if info.Name == "" && info.CNPJ == "" && info.Regime == "" {
		return nil
	}
	return &info
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 {
		return def
	}
	return val
}

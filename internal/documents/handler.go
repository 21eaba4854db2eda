package documents

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"taxrecovery-backend/internal/analyses"
	"taxrecovery-backend/internal/shared/server/middleware"
	"taxrecovery-backend/internal/shared/server/respond"
)

// Handler wires document HTTP routes to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents/analyze", h.analyze)
	rg.GET("/documents/:id", h.get)
	rg.GET("/documents/:id/analysis", h.analysis)
}

func (h *Handler) analyze(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFileSize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	documentType := strings.TrimSpace(c.PostForm("documentType"))
	var company *CompanyInfo
	info := CompanyInfo{
		Name:   strings.TrimSpace(c.PostForm("companyName")),
		CNPJ:   strings.TrimSpace(c.PostForm("companyCnpj")),
		Regime: strings.TrimSpace(c.PostForm("companyRegime")),
	}
	if info.Name != "" || info.CNPJ != "" || info.Regime != "" {
		company = &info
	}

	doc, err := h.Svc.Analyze(c.Request.Context(), userID, documentType, company, UploadFile{
		FileName:  fileHeader.Filename,
		MimeType:  fileHeader.Header.Get("Content-Type"),
		SizeBytes: fileHeader.Size,
		Reader:    file,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to accept document", nil)
		}
		return
	}

	respond.JSON(c, http.StatusAccepted, doc)
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	doc, err := h.Svc.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.renderError(c, err, "failed to load document")
		return
	}
	respond.OK(c, doc)
}

func (h *Handler) analysis(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	result, err := h.Svc.GetAnalysis(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.renderError(c, err, "failed to load analysis")
		return
	}
	respond.OK(c, result)
}

func (h *Handler) renderError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, analyses.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

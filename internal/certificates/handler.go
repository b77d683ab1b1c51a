package certificates

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	certs := rg.Group("/certificates")
	{
		certs.POST("/templates/:id/generate", h.Generate)
		certs.POST("/templates/:id/bulk-generate", h.BulkGenerate)
		certs.POST("/templates/:id/sample", h.Sample)
		certs.GET("/templates/:id/serials", h.ListSerials)
		certs.GET("/templates/:id/serials/preview", h.PreviewSerial)
		certs.GET("/templates/:id/register", h.ExportRegister)
		certs.GET("/templates/:id/bulk-download", h.BulkDownload)
		certs.POST("/templates/:id/bulk-download", h.BulkDownload)
		certs.GET("/verify", h.Verify)
		certs.GET("/:id", h.Get)
		certs.GET("/:id/download", h.Download)
		certs.POST("/:id/regenerate", h.Regenerate)
	}
}

type generateBody struct {
	Subject       Subject       `json:"subject" binding:"required"`
	Recipient     RecipientData `json:"recipient" binding:"required"`
	RecipientType string        `json:"recipient_type"`
	Ownership     Ownership     `json:"ownership"`
	SerialYear    int           `json:"serial_year"`
}

func (b generateBody) request(templateID uint) GenerateRequest {
	return GenerateRequest{
		TemplateID:    templateID,
		Subject:       b.Subject,
		Recipient:     b.Recipient,
		RecipientType: b.RecipientType,
		Ownership:     b.Ownership,
		SerialYear:    b.SerialYear,
	}
}

type bulkGenerateBody struct {
	Items []generateBody `json:"items" binding:"required,min=1,dive"`
}

func (h *Handler) Generate(c *gin.Context) {
	templateID, ok := templateParam(c)
	if !ok {
		return
	}

	var body generateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.service.Generate(c.Request.Context(), body.request(templateID))
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if out.Regenerated {
		status = http.StatusOK
	}
	c.JSON(status, out)
}

func (h *Handler) BulkGenerate(c *gin.Context) {
	templateID, ok := templateParam(c)
	if !ok {
		return
	}

	var body bulkGenerateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reqs := make([]GenerateRequest, 0, len(body.Items))
	for _, item := range body.Items {
		reqs = append(reqs, item.request(templateID))
	}

	c.JSON(http.StatusOK, h.service.GenerateBatch(c.Request.Context(), templateID, reqs))
}

func (h *Handler) Sample(c *gin.Context) {
	templateID, ok := templateParam(c)
	if !ok {
		return
	}

	pdf, err := h.service.RenderSample(c.Request.Context(), templateID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="template-%d-sample.pdf"`, templateID))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (h *Handler) ListSerials(c *gin.Context) {
	templateID, ok := templateParam(c)
	if !ok {
		return
	}

	counters, err := h.service.ListTemplateSerials(c.Request.Context(), templateID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, counters)
}

func (h *Handler) PreviewSerial(c *gin.Context) {
	templateID, ok := templateParam(c)
	if !ok {
		return
	}

	year := 0
	if y := c.Query("year"); y != "" {
		v, err := strconv.Atoi(y)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
			return
		}
		year = v
	}

	serial, err := h.service.PreviewSerial(c.Request.Context(), templateID, TargetType(c.Query("target_type")), year)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"next_serial_number": serial})
}

func (h *Handler) ExportRegister(c *gin.Context) {
	templateID, ok := templateParam(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.service.ExportRegister(c.Request.Context(), templateID, &buf); err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="template-%d-register.xlsx"`, templateID))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// BulkDownload streams a zip of the template's generated certificates.
// Options come from the JSON body on POST and from the query string otherwise.
func (h *Handler) BulkDownload(c *gin.Context) {
	templateID, ok := templateParam(c)
	if !ok {
		return
	}

	var (
		opts BulkDownloadOptions
		err  error
	)
	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		err = c.ShouldBindJSON(&opts)
	} else {
		err = c.ShouldBindQuery(&opts)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	archive, err := h.service.BulkDownload(c.Request.Context(), templateID, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, archive.Filename))
	c.Status(http.StatusOK)
	if err := archive.Write(c.Request.Context(), c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func (h *Handler) Verify(c *gin.Context) {
	serial := c.Query("serial")
	if serial == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "serial is required"})
		return
	}

	result, err := h.service.VerifySerial(c.Request.Context(), serial)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	cert, err := h.service.GetCertificate(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

func (h *Handler) Download(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	reader, cert, err := h.service.DownloadCertificate(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	defer reader.Close()

	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s.pdf"`, cert.UniqueCode),
	}
	c.DataFromReader(http.StatusOK, -1, "application/pdf", reader, headers)
}

func (h *Handler) Regenerate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	out, err := h.service.Regenerate(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func templateParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid template id"})
		return 0, false
	}
	return uint(id), true
}

// respondError maps domain errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var lerr *LifecycleError
	if errors.As(err, &lerr) {
		body["step"] = lerr.Step
	}

	var (
		loadErr *TemplateLoadError
		cfgErr  *InvalidConfigurationError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, body)
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidTargetType), errors.As(err, &cfgErr):
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, ErrTemplateInactive):
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &loadErr):
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, ErrIssuanceFailed):
		c.JSON(http.StatusServiceUnavailable, body)
	default:
		c.JSON(http.StatusInternalServerError, body)
	}
}

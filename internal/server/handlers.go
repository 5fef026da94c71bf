package server

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"invoicebridge/internal/common"
	"invoicebridge/internal/entity"
	"invoicebridge/internal/pipeline"
)

const maxUploadBytes = 64 << 20

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// processRequest is the JSON intake shape. Content accepts inline base64,
// a data URL, or a model-provider file id.
type processRequest struct {
	Filename string `json:"filename" binding:"required"`
	MIMEType string `json:"mime_type"`
	Content  string `json:"content" binding:"required"`
}

// handleProcess accepts a document as multipart form data (field "file")
// or as a JSON body, and runs the pipeline on it. An unresolved vendor
// answers 409 with a confirmation token instead of a result.
func (s *Server) handleProcess(c *gin.Context) {
	doc, err := s.readDocument(c)
	if err != nil {
		s.renderError(c, err)
		return
	}

	result, err := s.processor.Run(c.Request.Context(), doc)
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.renderResult(c, result)
}

func (s *Server) readDocument(c *gin.Context) (entity.RawDocument, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return entity.RawDocument{}, common.NewAppError("MISSING_FILE",
				`multipart request requires a "file" part`, common.ErrInvalidInput)
		}
		data, err := readMultipart(fh)
		if err != nil {
			return entity.RawDocument{}, err
		}
		return entity.RawDocument{
			Filename: fh.Filename,
			MIMEType: fh.Header.Get("Content-Type"),
			Data:     data,
		}, nil
	}

	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return entity.RawDocument{}, common.NewAppError("BAD_REQUEST", err.Error(), common.ErrInvalidInput)
	}
	data, err := s.decoder.DecodeContent(c.Request.Context(), req.Content)
	if err != nil {
		return entity.RawDocument{}, err
	}
	return entity.RawDocument{Filename: req.Filename, MIMEType: req.MIMEType, Data: data}, nil
}

func readMultipart(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > maxUploadBytes {
		return nil, common.NewAppError("TOO_LARGE", "uploaded file exceeds size limit", common.ErrInvalidInput)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, common.NewAppError("BAD_UPLOAD", err.Error(), common.ErrInvalidInput)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return nil, common.NewAppError("BAD_UPLOAD", err.Error(), common.ErrInvalidInput)
	}
	if int64(len(data)) > maxUploadBytes {
		return nil, common.NewAppError("TOO_LARGE", "uploaded file exceeds size limit", common.ErrInvalidInput)
	}
	return data, nil
}

type confirmRequest struct {
	Token        string `json:"token" binding:"required"`
	VendorID     int64  `json:"vendor_id"`
	CreateVendor bool   `json:"create_vendor"`
	Reject       bool   `json:"reject"`
}

// handleConfirm resumes a run paused on vendor confirmation.
func (s *Server) handleConfirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, common.NewAppError("BAD_REQUEST", err.Error(), common.ErrInvalidInput))
		return
	}

	result, err := s.processor.Resume(c.Request.Context(), req.Token, pipeline.Decision{
		VendorID:     req.VendorID,
		CreateVendor: req.CreateVendor,
		Reject:       req.Reject,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.renderResult(c, result)
}

// handleVendorSearch queries the ledger directory directly, for operator
// tooling that wants to answer a confirmation with a known vendor.
func (s *Server) handleVendorSearch(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	taxID := strings.TrimSpace(c.Query("tax_id"))
	if q == "" && taxID == "" {
		s.renderError(c, common.NewAppError("BAD_REQUEST",
			"q or tax_id query parameter required", common.ErrInvalidInput))
		return
	}

	var (
		vendors []entity.VendorRecord
		err     error
	)
	if taxID != "" {
		vendors, err = s.client.SearchVendorsByTaxID(c.Request.Context(), taxID)
	} else {
		vendors, err = s.client.SearchVendorsByName(c.Request.Context(), q, 20)
	}
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vendors": vendors})
}

// handleExport streams the review-queue workbook.
func (s *Server) handleExport(c *gin.Context) {
	var statuses []string
	if raw := c.Query("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				statuses = append(statuses, st)
			}
		}
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="bills.xlsx"`)
	if err := s.exporter.WriteWorkbook(c.Request.Context(), c.Writer, statuses); err != nil {
		s.logger.Error("http.export_failed", "error", err)
		// headers are gone; the truncated stream is the best signal left
		c.Abort()
	}
}

func (s *Server) renderResult(c *gin.Context, result pipeline.Result) {
	switch result.Outcome {
	case pipeline.OutcomeNeedsConfirmation:
		c.JSON(http.StatusConflict, result)
	case pipeline.OutcomeSubmitted:
		c.JSON(http.StatusCreated, result)
	default:
		c.JSON(http.StatusOK, result)
	}
}

func (s *Server) renderError(c *gin.Context, err error) {
	code := common.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "UNSUPPORTED_FORMAT":
		status = http.StatusUnsupportedMediaType
	case "EXTRACTION_FAILED":
		status = http.StatusUnprocessableEntity
	case "UNAUTHORIZED":
		status = http.StatusUnauthorized
	case "NOT_FOUND":
		status = http.StatusNotFound
	case "LEDGER_UNAVAILABLE":
		status = http.StatusServiceUnavailable
	case "LEDGER_REJECTED":
		status = http.StatusBadGateway
	default:
		if code != "INTERNAL" {
			// AppError codes wrapping ErrInvalidInput and friends
			status = http.StatusBadRequest
		}
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("http.internal_error", "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

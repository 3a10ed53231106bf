// Package handler exposes the MedLedger HTTP API.
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/medledger/medledger/internal/identity"
	"github.com/medledger/medledger/internal/ledger"
	"github.com/medledger/medledger/internal/records"
)

// RecordsHandler handles HTTP requests for medical records.
type RecordsHandler struct {
	svc    *records.Service
	tokens *identity.TokenIssuer // nil = open mode, no write auth
	logger *zap.Logger
}

// NewRecordsHandler creates a new RecordsHandler. tokens may be nil to
// disable write authentication.
func NewRecordsHandler(svc *records.Service, tokens *identity.TokenIssuer, logger *zap.Logger) *RecordsHandler {
	return &RecordsHandler{svc: svc, tokens: tokens, logger: logger}
}

// requireToken returns the RequireToken middleware when write auth is
// configured, or a no-op middleware in open mode.
func (h *RecordsHandler) requireToken() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return identity.RequireToken(h.tokens)
}

// Register mounts the record routes on the given router group.
func (h *RecordsHandler) Register(rg *gin.RouterGroup) {
	r := rg.Group("/records")
	{
		r.POST("", h.requireToken(), h.Create)
		r.GET("", h.List)
		r.GET("/export", h.ExportCSV)
	}
}

// Create handles POST /records — appends one medical record to the chain.
func (h *RecordsHandler) Create(c *gin.Context) {
	var rec records.MedicalRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record: " + err.Error()})
		return
	}

	receipt, err := h.svc.AddRecord(c.Request.Context(), rec)
	if err != nil {
		var payloadErr *ledger.PayloadError
		if errors.As(err, &payloadErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("append record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append record"})
		return
	}

	c.JSON(http.StatusCreated, receipt)
}

// List handles GET /records — all record projections, optionally filtered by
// ?patient_id=.
func (h *RecordsHandler) List(c *gin.Context) {
	var projections []ledger.Projection
	if patientID := c.Query("patient_id"); patientID != "" {
		projections = h.svc.PatientRecords(patientID)
	} else {
		projections = h.svc.AllRecords()
	}
	if projections == nil {
		projections = []ledger.Projection{}
	}

	c.JSON(http.StatusOK, gin.H{
		"records": projections,
		"count":   len(projections),
	})
}

// ExportCSV handles GET /records/export — streams all records as a CSV
// download.
func (h *RecordsHandler) ExportCSV(c *gin.Context) {
	filename := fmt.Sprintf("ehr_records_%s.csv", time.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)

	if err := h.svc.WriteCSV(c.Writer); err != nil {
		h.logger.Error("csv export", zap.Error(err))
		// Headers are already out; all we can do is drop the connection.
		c.Abort()
	}
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/medledger/medledger/internal/identity"
	"github.com/medledger/medledger/internal/ledger"
	"github.com/medledger/medledger/internal/records"
)

// BlockView is the linkage metadata of one block, payload omitted.
type BlockView struct {
	Index           int    `json:"index"`
	Timestamp       string `json:"timestamp"`
	Fingerprint     string `json:"fingerprint"`
	PrevFingerprint string `json:"previous_fingerprint"`
	Nonce           uint64 `json:"nonce"`
}

func toBlockView(b ledger.Block) BlockView {
	return BlockView{
		Index:           b.Index,
		Timestamp:       b.Timestamp,
		Fingerprint:     b.Fingerprint,
		PrevFingerprint: b.PrevFingerprint,
		Nonce:           b.Nonce,
	}
}

// ChainHandler exposes chain inspection and snapshot endpoints.
type ChainHandler struct {
	svc    *records.Service
	tokens *identity.TokenIssuer // nil = open mode
	logger *zap.Logger
}

// NewChainHandler creates a new ChainHandler. tokens may be nil to disable
// auth on the snapshot endpoints.
func NewChainHandler(svc *records.Service, tokens *identity.TokenIssuer, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{svc: svc, tokens: tokens, logger: logger}
}

func (h *ChainHandler) requireToken() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return identity.RequireToken(h.tokens)
}

// Register mounts the chain routes on the given router group.
func (h *ChainHandler) Register(rg *gin.RouterGroup) {
	ch := rg.Group("/chain")
	{
		ch.GET("", h.Stats)
		ch.GET("/verify", h.Verify)
		ch.GET("/latest", h.Latest)
		ch.GET("/blocks/:idx", h.GetBlock)
		ch.GET("/snapshot", h.requireToken(), h.ExportSnapshot)
		ch.POST("/snapshot", h.requireToken(), h.ImportSnapshot)
	}
}

// Stats handles GET /chain — block count, record count, validity.
func (h *ChainHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats())
}

// Verify handles GET /chain/verify — walks the full chain and reports
// integrity per block.
func (h *ChainHandler) Verify(c *gin.Context) {
	issues := h.svc.Verify()
	if len(issues) > 0 {
		h.logger.Warn("chain integrity check failed", zap.Int("issues", len(issues)))
		c.JSON(http.StatusOK, gin.H{
			"valid":  false,
			"issues": issues,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true, "issues": []ledger.Issue{}})
}

// Latest handles GET /chain/latest — the tip's linkage metadata.
func (h *ChainHandler) Latest(c *gin.Context) {
	c.JSON(http.StatusOK, toBlockView(h.svc.LatestBlock()))
}

// GetBlock handles GET /chain/blocks/:idx — one full block.
func (h *ChainHandler) GetBlock(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	block, err := h.svc.BlockAt(idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
		return
	}

	c.JSON(http.StatusOK, block)
}

// ExportSnapshot handles GET /chain/snapshot — the full ordered block
// sequence as a serialisable blob.
func (h *ChainHandler) ExportSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Snapshot())
}

// ImportSnapshot handles POST /chain/snapshot — verifies the posted
// snapshot and swaps it in as the live chain. A snapshot failing
// verification is rejected with 409 and nothing changes.
func (h *ChainHandler) ImportSnapshot(c *gin.Context) {
	var snap ledger.Snapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid snapshot: " + err.Error()})
		return
	}

	if err := h.svc.ImportSnapshot(c.Request.Context(), snap); err != nil {
		h.logger.Warn("snapshot import rejected", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.svc.Stats())
}

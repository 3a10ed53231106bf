package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/medledger/medledger/internal/api/handler"
	"github.com/medledger/medledger/internal/ledger"
	"github.com/medledger/medledger/internal/records"
)

func setupChainRouter(t *testing.T) (*gin.Engine, *records.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := newTestService(t)
	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewChainHandler(svc, nil, zap.NewNop()).Register(v1)
	return r, svc
}

func appendSample(t *testing.T, svc *records.Service, patientID string) records.Receipt {
	t.Helper()
	receipt, err := svc.AddRecord(context.Background(), records.MedicalRecord{
		PatientID: patientID, PatientName: "John Doe", Age: 42,
		Diagnosis: "Flu", Treatment: "Rest", Doctor: "Dr. Smith",
	})
	if err != nil {
		t.Fatal(err)
	}
	return receipt
}

func TestChainStats_200(t *testing.T) {
	router, svc := setupChainRouter(t)
	appendSample(t, svc, "P001")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chain", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var stats records.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Blocks != 2 || stats.Records != 1 || !stats.Valid {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestChainVerify_valid(t *testing.T) {
	router, svc := setupChainRouter(t)
	appendSample(t, svc, "P001")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chain/verify", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Valid  bool           `json:"valid"`
		Issues []ledger.Issue `json:"issues"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Valid || len(resp.Issues) != 0 {
		t.Errorf("expected a valid chain, got %s", w.Body.String())
	}
}

func TestChainLatest_200(t *testing.T) {
	router, svc := setupChainRouter(t)
	receipt := appendSample(t, svc, "P001")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chain/latest", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var view handler.BlockView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Index != receipt.Index || view.Fingerprint != receipt.Fingerprint {
		t.Errorf("unexpected latest view %+v", view)
	}
	if view.PrevFingerprint == "" {
		t.Error("latest view must carry the back-reference")
	}
}

func TestChainGetBlock(t *testing.T) {
	router, _ := setupChainRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chain/blocks/0", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for genesis, got %d", w.Code)
	}

	var block ledger.Block
	if err := json.Unmarshal(w.Body.Bytes(), &block); err != nil {
		t.Fatal(err)
	}
	if block.PrevFingerprint != ledger.ZeroFingerprint {
		t.Error("genesis back-reference must be the sentinel")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/chain/blocks/999", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a missing block, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/chain/blocks/abc", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad index, got %d", w.Code)
	}
}

func TestChainSnapshot_roundTripOverHTTP(t *testing.T) {
	router, svc := setupChainRouter(t)
	appendSample(t, svc, "P001")
	appendSample(t, svc, "P002")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chain/snapshot", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	exported := w.Body.Bytes()

	// Import into a fresh service.
	router2, svc2 := setupChainRouter(t)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/chain/snapshot", bytes.NewReader(exported))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router2.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if stats := svc2.Stats(); stats.Blocks != 3 || stats.Records != 2 || !stats.Valid {
		t.Errorf("unexpected stats after import %+v", stats)
	}
}

func TestChainSnapshot_importRejectsTampered(t *testing.T) {
	router, svc := setupChainRouter(t)
	appendSample(t, svc, "P001")

	snap := svc.Snapshot()
	snap.Blocks[1].Payload["diagnosis"] = "tampered"
	body, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chain/snapshot", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

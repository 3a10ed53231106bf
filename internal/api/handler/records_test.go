package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/medledger/medledger/internal/api/handler"
	"github.com/medledger/medledger/internal/records"
	"github.com/medledger/medledger/internal/store"
)

func newTestService(t *testing.T) *records.Service {
	t.Helper()

	chain, issues, err := records.Bootstrap(context.Background(), store.NewMemory())
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 0 {
		t.Fatalf("fresh chain reported issues: %v", issues)
	}
	return records.NewService(chain, nil, zap.NewNop())
}

func setupRecordsRouter(t *testing.T) (*gin.Engine, *records.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := newTestService(t)
	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewRecordsHandler(svc, nil, zap.NewNop()).Register(v1)
	return r, svc
}

const sampleBody = `{
	"patient_id": "P001",
	"patient_name": "John Doe",
	"age": 42,
	"diagnosis": "Seasonal influenza",
	"treatment": "Rest and fluids",
	"doctor": "Dr. Smith"
}`

func TestCreateRecord_201(t *testing.T) {
	router, svc := setupRecordsRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/records", strings.NewReader(sampleBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var receipt records.Receipt
	if err := json.Unmarshal(w.Body.Bytes(), &receipt); err != nil {
		t.Fatal(err)
	}
	if receipt.Index != 1 || receipt.Fingerprint == "" || receipt.ReceiptID == "" {
		t.Errorf("unexpected receipt %+v", receipt)
	}

	if stats := svc.Stats(); stats.Blocks != 2 || stats.Records != 1 {
		t.Errorf("unexpected stats after append %+v", stats)
	}
}

func TestCreateRecord_400_missingFields(t *testing.T) {
	router, svc := setupRecordsRouter(t)

	body := `{"patient_id": "P001"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/records", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if stats := svc.Stats(); stats.Blocks != 1 {
		t.Error("rejected record must not reach the chain")
	}
}

func TestCreateRecord_400_implausibleAge(t *testing.T) {
	router, _ := setupRecordsRouter(t)

	body := strings.Replace(sampleBody, `"age": 42`, `"age": 400`, 1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/records", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListRecords_emptyChain(t *testing.T) {
	router, _ := setupRecordsRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Records []map[string]any `json:"records"`
		Count   int              `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 0 || resp.Records == nil {
		t.Errorf("expected an empty list, got %s", w.Body.String())
	}
}

func TestListRecords_projectionShape(t *testing.T) {
	router, svc := setupRecordsRouter(t)

	rec := records.MedicalRecord{
		PatientID: "P001", PatientName: "John Doe", Age: 42,
		Diagnosis: "Flu", Treatment: "Rest", Doctor: "Dr. Smith",
	}
	receipt, err := svc.AddRecord(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp struct {
		Records []map[string]any `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(resp.Records))
	}

	got := resp.Records[0]
	if got["patient_id"] != "P001" || got["block_hash"] != receipt.Fingerprint {
		t.Errorf("unexpected projection %v", got)
	}
	if int(got["block_index"].(float64)) != receipt.Index {
		t.Errorf("block_index mismatch: %v", got["block_index"])
	}
}

func TestListRecords_patientFilter(t *testing.T) {
	router, svc := setupRecordsRouter(t)

	for _, id := range []string{"P001", "P002", "P001", "P001"} {
		rec := records.MedicalRecord{
			PatientID: id, PatientName: "Jane Roe", Age: 30,
			Diagnosis: "Checkup", Treatment: "None", Doctor: "Dr. Lee",
		}
		if _, err := svc.AddRecord(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records?patient_id=P001", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 3 {
		t.Errorf("expected 3 records for P001, got %d", resp.Count)
	}
}

func TestExportCSV(t *testing.T) {
	router, svc := setupRecordsRouter(t)

	rec := records.MedicalRecord{
		PatientID: "P001", PatientName: "John Doe", Age: 42,
		Diagnosis: "Flu", Treatment: "Rest", Doctor: "Dr. Smith",
	}
	if _, err := svc.AddRecord(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records/export", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("unexpected content type %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("expected header plus 1 row, got %d lines", len(lines))
	}
}

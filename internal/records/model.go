package records

import (
	"time"

	"github.com/medledger/medledger/internal/ledger"
)

// MedicalRecord is the boundary shape of one EHR entry. The binding tags are
// enforced by Gin before a ledger.Record is ever constructed, so the chain
// itself stays schema-agnostic.
type MedicalRecord struct {
	PatientID   string `json:"patient_id" binding:"required"`
	PatientName string `json:"patient_name" binding:"required"`
	Age         int    `json:"age" binding:"gte=0,lte=150"`
	Diagnosis   string `json:"diagnosis" binding:"required"`
	Treatment   string `json:"treatment" binding:"required"`
	Doctor      string `json:"doctor" binding:"required"`
	Timestamp   string `json:"timestamp"`
}

// ToRecord converts the medical record into the opaque payload stored in a
// block. A missing timestamp is stamped with the current time.
func (r MedicalRecord) ToRecord() ledger.Record {
	ts := r.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return ledger.Record{
		"patient_id":   r.PatientID,
		"patient_name": r.PatientName,
		"age":          r.Age,
		"diagnosis":    r.Diagnosis,
		"treatment":    r.Treatment,
		"doctor":       r.Doctor,
		"timestamp":    ts,
	}
}

// ConformsToRecordShape reports whether a stored payload looks like a
// medical record. Used as the chain's projection predicate so foreign
// payloads never surface in record listings.
func ConformsToRecordShape(r ledger.Record) bool {
	_, hasID := r["patient_id"]
	_, hasName := r["patient_name"]
	return hasID && hasName
}

// CSVColumns is the export column order, record fields first.
var CSVColumns = []string{
	"patient_id", "patient_name", "age", "diagnosis",
	"treatment", "doctor", "timestamp", "block_index", "block_hash",
}

package main

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/coral/object"
)

// Report summarizes one stress run.
type Report struct {
	RuntimeID string       `cbor:"runtime_id" json:"runtime_id"`
	Workers   int          `cbor:"workers" json:"workers"`
	Ops       int          `cbor:"ops" json:"ops"`
	ElapsedNs int64        `cbor:"elapsed_ns" json:"elapsed_ns"`
	MapCount  uint64       `cbor:"map_count" json:"map_count"`
	MapSum    int64        `cbor:"map_sum" json:"map_sum"`
	Drained   int          `cbor:"drained" json:"drained"`
	Stats     object.Stats `cbor:"stats" json:"stats"`
}

// Canonical mode keeps report bytes deterministic for equal reports.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("coral: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalReport serializes a Report to CBOR bytes.
func MarshalReport(r *Report) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalReport deserializes a Report from CBOR bytes.
func UnmarshalReport(data []byte) (*Report, error) {
	var r Report
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("coral: unmarshal report: %w", err)
	}
	return &r, nil
}

// WriteReport writes r to path.
func WriteReport(path string, r *Report) error {
	data, err := MarshalReport(r)
	if err != nil {
		return fmt.Errorf("coral: marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("coral: write report: %w", err)
	}
	return nil
}

package coordinator

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

// The default zipcode pool ships inside the binary so a fresh coordinator can
// issue epochs before any operator has loaded a curated pool into Postgres.
//
//go:embed pool.json
var poolJSON []byte

type poolFile struct {
	Eligible  []PoolEntry `json:"eligible"`
	Honeypots []PoolEntry `json:"honeypots"`
}

// DefaultPools decodes the embedded zipcode pools.
func DefaultPools() (eligible, honeypots []PoolEntry, err error) {
	var pf poolFile
	if err := json.Unmarshal(poolJSON, &pf); err != nil {
		return nil, nil, fmt.Errorf("decode embedded pool: %w", err)
	}
	return pf.Eligible, pf.Honeypots, nil
}

package pipeline

import (
	"time"

	"github.com/randytsao24/tournee/internal/matrix"
	"github.com/randytsao24/tournee/internal/registry"
)

// MasterStatus describes the published master against the current registry
type MasterStatus struct {
	Locations        int       `json:"locations"`
	RegistrySize     int       `json:"registry_size"`
	Provider         string    `json:"provider"`
	AcquiredAt       time.Time `json:"acquired_at"`
	Fingerprint      string    `json:"fingerprint,omitempty"`
	FingerprintMatch bool      `json:"fingerprint_match"`
	// MissingKeys are registry indices with no row in the master
	MissingKeys []int `json:"missing_keys,omitempty"`
}

// Ready reports whether every registry location is covered
func (s MasterStatus) Ready() bool {
	return len(s.MissingKeys) == 0
}

// Status loads the master and compares it with reg
func Status(reg *registry.Registry, source matrix.Source) (MasterStatus, error) {
	snap, err := source.Master()
	if err != nil {
		return MasterStatus{}, err
	}

	status := MasterStatus{
		Locations:        snap.Len(),
		RegistrySize:     reg.Len(),
		Provider:         snap.Provider,
		AcquiredAt:       snap.AcquiredAt,
		Fingerprint:      snap.Fingerprint,
		FingerprintMatch: snap.Fingerprint != "" && snap.Fingerprint == reg.Fingerprint(),
	}
	for _, k := range reg.Keys() {
		if _, ok := snap.Distance.Position(k); !ok {
			status.MissingKeys = append(status.MissingKeys, k)
		}
	}
	return status, nil
}

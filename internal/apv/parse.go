package apv

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMissingID indicates an APV payload without an identifier.
	ErrMissingID = errors.New("apv: missing id")

	// ErrMissingCVE indicates an APV payload without a CVE reference.
	ErrMissingCVE = errors.New("apv: missing cve_id")
)

// Parse decodes and validates an APV from its wire form.
func Parse(data []byte) (*APV, error) {
	var a APV
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("apv: decoding payload: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks the invariants every published APV must satisfy.
func (a *APV) Validate() error {
	if a.ID == "" {
		return ErrMissingID
	}
	if a.CVEID == "" {
		return ErrMissingCVE
	}
	if a.CVSSScore < 0 || a.CVSSScore > 10 {
		return fmt.Errorf("apv %s: cvss score %.1f out of range", a.ID, a.CVSSScore)
	}
	for i, p := range a.AffectedPackages {
		if p.Name == "" {
			return fmt.Errorf("apv %s: affected package %d has no name", a.ID, i)
		}
	}
	return nil
}

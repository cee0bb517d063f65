// Package vulnerability holds the durable output model of report ingestion:
// findings, vulnerabilities, identifiers and the denormalized read model.
package vulnerability

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/openctemio/ingest/pkg/domain/shared"
)

// MaxIdentifiersPerFinding caps how many external identifiers are attached
// to one finding. Extra identifiers reported by the scanner are dropped.
const MaxIdentifiersPerFinding = 20

// Identifier is an external vulnerability identifier (CVE, CWE, scanner
// specific rule id) shared across findings of a project.
type Identifier struct {
	ID           shared.ID
	ProjectID    shared.ID
	ExternalType string
	ExternalID   string
	Name         string
	URL          string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIdentifier creates an identifier for a project.
func NewIdentifier(projectID shared.ID, externalType, externalID, name, url string) (*Identifier, error) {
	if externalType == "" || externalID == "" {
		return nil, shared.NewDomainError("VALIDATION", "external type and id are required", shared.ErrValidation)
	}
	now := time.Now().UTC()
	return &Identifier{
		ID:           shared.NewID(),
		ProjectID:    projectID,
		ExternalType: strings.ToLower(externalType),
		ExternalID:   externalID,
		Name:         name,
		URL:          url,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Fingerprint is the natural key used for find-or-create semantics: a
// digest over (project, external type, external id).
func (i *Identifier) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(i.ProjectID.String()))
	h.Write([]byte{0})
	h.Write([]byte(i.ExternalType))
	h.Write([]byte{0})
	h.Write([]byte(i.ExternalID))
	return hex.EncodeToString(h.Sum(nil))
}

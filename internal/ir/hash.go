package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows the algorithm to migrate without collisions.
const (
	DomainAsset    = "pilotforge/asset/v1"
	DomainRevision = "pilotforge/revision/v1"
	DomainPayload  = "pilotforge/payload/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// AssetKey is the identity-bearing subset of an asset's attributes.
type AssetKey struct {
	PilotID   string
	SegmentID string
	Variation int
	AssetType AssetType
	Provider  string
}

// AssetID computes the stable identity of an asset.
// Equal keys always produce the same id, across processes and runs, so a
// later run finds earlier output.
func AssetID(key AssetKey) (string, error) {
	if strings.TrimSpace(key.SegmentID) == "" {
		return "", fmt.Errorf("AssetID: segment id is required")
	}
	canonical, err := MarshalCanonical(map[string]any{
		"pilot_id":   key.PilotID,
		"segment_id": key.SegmentID,
		"variation":  key.Variation,
		"asset_type": string(key.AssetType),
		"provider":   key.Provider,
	})
	if err != nil {
		return "", fmt.Errorf("AssetID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainAsset, canonical), nil
}

// MustAssetID is like AssetID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustAssetID(key AssetKey) string {
	id, err := AssetID(key)
	if err != nil {
		panic(err)
	}
	return id
}

// RevisionID computes the identity of the n-th revision of an asset.
// Revisions of a rejected asset get their own id so the rejected record
// stays intact for audit.
func RevisionID(baseID string, revision int) string {
	canonical, err := MarshalCanonical(map[string]any{
		"revision_of": baseID,
		"revision":    revision,
	})
	if err != nil {
		// Only strings and ints are marshaled; this cannot fail.
		panic(err)
	}
	return hashWithDomain(DomainRevision, canonical)
}

// PayloadDigest returns the content digest of a generated payload.
func PayloadDigest(payload []byte) string {
	return hashWithDomain(DomainPayload, payload)
}

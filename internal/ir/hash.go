package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainUnit     = "pmc/unit/v1"
	DomainBuild    = "pmc/build/v1"
	DomainArtifact = "pmc/artifact/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// UnitHash computes the content hash of a translation unit. Two units with
// the same records, code and sequence numbers hash identically.
func UnitHash(u TranslationUnit) (string, error) {
	canonical, err := MarshalCanonical(u.Canonical())
	if err != nil {
		return "", fmt.Errorf("UnitHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainUnit, canonical), nil
}

// BuildHash keys one backend build of a unit. Settings holds every option
// that changes generated text; the compiler version is always included.
func BuildHash(unitHash, backend string, settings Object) (string, error) {
	obj := Object{
		"unit_hash":        Str(unitHash),
		"backend":          Str(backend),
		"compiler_version": Str(CompilerVersion),
		"settings":         settings,
	}
	if settings == nil {
		obj["settings"] = Object{}
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("BuildHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainBuild, canonical), nil
}

// ArtifactHash computes the content hash of one generated file.
func ArtifactHash(path string, content []byte) string {
	data := make([]byte, 0, len(path)+1+len(content))
	data = append(data, path...)
	data = append(data, 0x00)
	data = append(data, content...)
	return hashWithDomain(DomainArtifact, data)
}

// MustUnitHash is like UnitHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustUnitHash(u TranslationUnit) string {
	h, err := UnitHash(u)
	if err != nil {
		panic(err)
	}
	return h
}

package ir

// Version constants for persisted formats and the engine.
const (
	// ManifestVersion is the current persisted manifest format.
	ManifestVersion = "v2"

	// LegacyManifestVersion is the format upgraded on first read.
	LegacyManifestVersion = "v1"

	// EngineVersion is the pilotforge engine version.
	EngineVersion = "0.3.0"
)

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewright/gatewright/pkg/candidate"
)

const sampleProfile = `
name: lab
min_engine_version: "1.2.0"
thresholds:
  min_composite: 0.65
  min_mutual_information: 0.55
  cross_impact_floor: 0.45
  default_confidence: 0.8
domains:
  biodiscovery:
    targets: [bio-target-1, bio-target-2]
    confidence_threshold: 0.82
    rules:
      - '"method" in payload'
    frameworks: [GDPR]
  genomics:
    targets: [gen-target-1]
    min_level: ENHANCED
    frameworks: [GDPR, HIPAA]
adjacency:
  biodiscovery:
    genomics: 0.6
approvers: [alice, bob, carol]
retry:
  max_retries: 2
  delay_ms: 50
  escalate_on_failure: true
checkpoint:
  capacity: 25
rate_limit:
  per_second: 5
  burst: 10
`

func writeProfile(t *testing.T, name, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "profile_"+name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return dir
}

func TestLoadProfile(t *testing.T) {
	dir := writeProfile(t, "lab", sampleProfile)

	profile, err := LoadProfile(dir, "lab")
	require.NoError(t, err)

	assert.Equal(t, "lab", profile.Name)
	assert.Equal(t, 0.65, profile.Thresholds.MinComposite)
	assert.Equal(t, []string{"alice", "bob", "carol"}, profile.Approvers)
	assert.Equal(t, 2, profile.Retry.MaxRetries)
	assert.Equal(t, int64(50), profile.Retry.Delay().Milliseconds())
	assert.Equal(t, 25, profile.Checkpoint.Capacity)
	assert.Equal(t, 5.0, profile.RateLimit.PerSecond)

	bio := profile.Domains["biodiscovery"]
	assert.Equal(t, []string{"bio-target-1", "bio-target-2"}, bio.Targets)
	assert.Equal(t, 0.82, bio.ConfidenceThreshold)
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `load profile "nope"`)
}

func TestEngineVersionGate(t *testing.T) {
	p := DefaultProfile()
	p.MinEngineVersion = "99.0.0"
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires engine >= 99.0.0")

	p.MinEngineVersion = EngineVersion
	assert.NoError(t, p.Validate())

	p.MinEngineVersion = "not-a-version"
	assert.Error(t, p.Validate())
}

func TestValidateRejectsBadProfiles(t *testing.T) {
	p := DefaultProfile()
	p.Approvers = []string{"solo"}
	assert.ErrorContains(t, p.Validate(), "at least 2 approvers")

	p = DefaultProfile()
	p.Domains = nil
	assert.ErrorContains(t, p.Validate(), "no domains")

	p = DefaultProfile()
	dom := p.Domains["genomics"]
	dom.MinLevel = "EXTREME"
	p.Domains["genomics"] = dom
	assert.ErrorContains(t, p.Validate(), "invalid min_level")

	p = DefaultProfile()
	dom = p.Domains["materials"]
	dom.Targets = nil
	p.Domains["materials"] = dom
	assert.ErrorContains(t, p.Validate(), "has no targets")

	p = DefaultProfile()
	p.Retry.MaxRetries = -1
	assert.ErrorContains(t, p.Validate(), "max_retries")
}

func TestDefaultProfileIsValid(t *testing.T) {
	p := DefaultProfile()
	require.NoError(t, p.Validate())
	assert.Equal(t, 3, p.Retry.MaxRetries)
	assert.Equal(t, 50, p.Checkpoint.Capacity)
}

func TestValidationConfigConversion(t *testing.T) {
	cfg := DefaultProfile().ValidationConfig()

	assert.Equal(t, 0.6, cfg.MinComposite)
	assert.Equal(t, 0.5, cfg.MinMI)

	gen, ok := cfg.Domains["genomics"]
	require.True(t, ok)
	assert.Equal(t, candidate.LevelEnhanced, gen.MinLevel)
	assert.Contains(t, gen.Frameworks, "HIPAA")
}

func TestMappingTablesConversion(t *testing.T) {
	tables := DefaultProfile().MappingTables()

	assert.Len(t, tables.Targets["biodiscovery"], 3)
	assert.Equal(t, 0.6, tables.Adjacency["biodiscovery"]["genomics"])
	assert.Equal(t, 0.5, tables.Adjacency["materials"]["quantum-chemistry"])
}

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("ARCHIVE_PATH", "")
	t.Setenv("PROFILE", "")

	cfg := Load()
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "gatewright.db", cfg.ArchivePath)
	assert.Equal(t, "default", cfg.ProfileName)
	assert.False(t, cfg.ShadowMode)

	t.Setenv("SHADOW_MODE", "true")
	assert.True(t, Load().ShadowMode)
}

package apv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{
			name: "valid APV",
			payload: `{
				"id": "apv-001",
				"cve_id": "CVE-2024-12345",
				"severity": "critical",
				"cvss_score": 9.8,
				"affected_packages": [
					{"ecosystem": "pypi", "name": "libfoo", "fixed_versions": ["1.2"]}
				]
			}`,
		},
		{
			name:    "missing id",
			payload: `{"cve_id": "CVE-2024-1"}`,
			wantErr: ErrMissingID,
		},
		{
			name:    "missing cve",
			payload: `{"id": "apv-002"}`,
			wantErr: ErrMissingCVE,
		},
		{
			name:    "cvss out of range",
			payload: `{"id": "apv-003", "cve_id": "CVE-2024-2", "cvss_score": 11.0}`,
			wantErr: nil, // non-sentinel error, checked separately
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse([]byte(tt.payload))
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.name == "cvss out of range":
				require.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, "apv-001", a.ID)
				assert.Equal(t, "CVE-2024-12345", a.CVEID)
			}
		})
	}
}

func TestAPV_SeverityLabel(t *testing.T) {
	tests := []struct {
		name string
		apv  APV
		want string
	}{
		{"explicit severity", APV{Severity: "high"}, "severity:high"},
		{"critical from cvss", APV{CVSSScore: 9.8}, "severity:critical"},
		{"high from cvss", APV{CVSSScore: 7.5}, "severity:high"},
		{"medium from cvss", APV{CVSSScore: 5.0}, "severity:medium"},
		{"low from cvss", APV{CVSSScore: 2.1}, "severity:low"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.apv.SeverityLabel())
			// The label carries exactly one prefix over the bare severity.
			assert.Equal(t, tt.want, "severity:"+tt.apv.EffectiveSeverity())
		})
	}
}

func TestAPV_FixedVersions(t *testing.T) {
	a := APV{
		AffectedPackages: []AffectedPackage{
			{Ecosystem: EcosystemPyPI, Name: "libfoo", FixedVersions: []string{"1.2"}},
			{Ecosystem: EcosystemNPM, Name: "barlib"},
		},
	}

	assert.Equal(t, []string{"1.2"}, a.FixedVersionFor("libfoo"))
	assert.Nil(t, a.FixedVersionFor("barlib"))
	assert.Nil(t, a.FixedVersionFor("absent"))
	assert.True(t, a.HasFixedVersion())

	none := APV{AffectedPackages: []AffectedPackage{{Name: "barlib"}}}
	assert.False(t, none.HasFixedVersion())
}

func TestConfirmationResult_Confirmed(t *testing.T) {
	loc := VulnerableLocation{FilePath: "app/db.py", StartLine: 42, EndLine: 42}

	assert.True(t, (&ConfirmationResult{Status: StatusConfirmed, Locations: []VulnerableLocation{loc}}).Confirmed())
	assert.False(t, (&ConfirmationResult{Status: StatusConfirmed}).Confirmed())
	assert.False(t, (&ConfirmationResult{Status: StatusError, Locations: []VulnerableLocation{loc}}).Confirmed())
	assert.False(t, (&ConfirmationResult{Status: StatusFalsePositive}).Confirmed())
}

func TestRemediationStatus_Terminal(t *testing.T) {
	terminal := []RemediationStatus{
		RemediationApplied, RemediationMitigated, RemediationEscalated,
		RemediationFalsePositive, RemediationFailed, RemediationRolledBack,
	}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
	}
	assert.False(t, RemediationPending.Terminal())
	assert.False(t, RemediationValidating.Terminal())
	assert.False(t, RemediationConfirmed.Terminal())
}

func TestCoagulationRule_Expired(t *testing.T) {
	now := time.Now()
	rule := CoagulationRule{ExpiresAt: now.Add(time.Hour)}

	assert.False(t, rule.Expired(now))
	assert.True(t, rule.Expired(now.Add(2*time.Hour)))
}

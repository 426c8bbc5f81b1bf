package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/eureka/internal/apv"
)

type fakeEnforcer struct {
	installed []*apv.CoagulationRule
	err       error
}

func (f *fakeEnforcer) InstallRule(_ context.Context, rule *apv.CoagulationRule) error {
	if f.err != nil {
		return f.err
	}
	f.installed = append(f.installed, rule)
	return nil
}

func TestCoagulation_InstallsRule(t *testing.T) {
	enforcer := &fakeEnforcer{}
	strat := NewCoagulation(enforcer, 48*time.Hour, nil)

	a := &apv.APV{ID: "apv-coag-1", CVEID: "CVE-2024-2222", CWEID: "CWE-89"}
	require.True(t, strat.CanHandle(a, nil))

	before := time.Now()
	outcome, err := strat.Apply(context.Background(), a, nil)
	require.NoError(t, err)

	require.Len(t, enforcer.installed, 1)
	rule := enforcer.installed[0]
	assert.Same(t, rule, outcome.Rule)
	assert.Nil(t, outcome.Patch, "coagulation never produces a patch")

	assert.Equal(t, "apv-coag-1", rule.APVID)
	assert.Equal(t, apv.VectorInjection, rule.Vector)
	assert.Equal(t, "block", rule.Action)
	assert.True(t, rule.Active)
	assert.NotEmpty(t, rule.MatchPattern)
	assert.WithinDuration(t, before.Add(48*time.Hour), rule.ExpiresAt, 2*time.Second)
	assert.False(t, rule.Expired(before))
	assert.True(t, rule.Expired(before.Add(49*time.Hour)))
}

func TestCoagulation_VectorMapping(t *testing.T) {
	tests := []struct {
		cwe  string
		want apv.AttackVector
	}{
		{"CWE-89", apv.VectorInjection},
		{"cwe-78", apv.VectorInjection},
		{"CWE-22", apv.VectorTraversal},
		{"CWE-502", apv.VectorDeserialize},
		{"CWE-918", apv.VectorSSRF},
		{"CWE-287", apv.VectorAuthBypass},
	}
	strat := NewCoagulation(&fakeEnforcer{}, 0, nil)

	for _, tt := range tests {
		t.Run(tt.cwe, func(t *testing.T) {
			a := &apv.APV{ID: "apv-1", CVEID: "CVE-2024-1", CWEID: tt.cwe}
			require.True(t, strat.CanHandle(a, nil))

			outcome, err := strat.Apply(context.Background(), a, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome.Rule.Vector)
		})
	}
}

func TestCoagulation_UnmappedCWE(t *testing.T) {
	strat := NewCoagulation(&fakeEnforcer{}, 0, nil)
	a := &apv.APV{ID: "apv-1", CVEID: "CVE-2024-1", CWEID: "CWE-352"}
	assert.False(t, strat.CanHandle(a, nil))
}

func TestCoagulation_NoEnforcer(t *testing.T) {
	strat := NewCoagulation(nil, 0, nil)
	a := &apv.APV{ID: "apv-1", CVEID: "CVE-2024-1", CWEID: "CWE-89"}
	assert.False(t, strat.CanHandle(a, nil))
}

func TestCoagulation_InstallFailure(t *testing.T) {
	enforcer := &fakeEnforcer{err: errors.New("enforcement point unreachable")}
	strat := NewCoagulation(enforcer, 0, nil)
	a := &apv.APV{ID: "apv-1", CVEID: "CVE-2024-1", CWEID: "CWE-89"}

	_, err := strat.Apply(context.Background(), a, nil)
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, NameCoagulation, failed.Strategy)
}

func TestCoagulation_DefaultTTL(t *testing.T) {
	enforcer := &fakeEnforcer{}
	strat := NewCoagulation(enforcer, 0, nil)
	a := &apv.APV{ID: "apv-1", CVEID: "CVE-2024-1", CWEID: "CWE-22"}

	_, err := strat.Apply(context.Background(), a, nil)
	require.NoError(t, err)
	rule := enforcer.installed[0]
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), rule.ExpiresAt, 2*time.Second)
}

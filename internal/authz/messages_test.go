package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aegis-grc/aegis/internal/authz"
)

func TestDenyMessages(t *testing.T) {
	cases := []struct {
		reason authz.DenyReason
		module authz.Module
		action authz.Action
		want   string
	}{
		{authz.DenyNoAccessControl, authz.ModuleRisks, authz.ActionView, "No access has been assigned"},
		{authz.DenyAccessControlInactive, authz.ModuleRisks, authz.ActionView, "not currently active"},
		{authz.DenyNoProfile, authz.ModuleRisks, authz.ActionView, "could not be found"},
		{authz.DenyProfileInactive, authz.ModuleRisks, authz.ActionView, "deactivated"},
		{authz.DenyModuleNotGranted, authz.ModuleKPIs, authz.ActionView, "does not grant access to KPIs"},
		{authz.DenyActionNotGranted, authz.ModuleControls, authz.ActionExport, "export records from Controls"},
		{authz.DenyActionNotGranted, authz.ModuleRisks, authz.ActionDelete, "delete records from Risks"},
	}
	for _, tc := range cases {
		got := authz.DenyMessage(tc.reason, tc.module, tc.action)
		assert.Contains(t, got, tc.want)
	}
}

func TestModuleLabel(t *testing.T) {
	assert.Equal(t, "KPIs", authz.ModuleLabel(authz.ModuleKPIs))
	assert.Equal(t, "Escalations", authz.ModuleLabel(authz.ModuleEscalations))
}

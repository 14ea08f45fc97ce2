package reports

import (
	"testing"

	"github.com/lememe/leme/config"
	"github.com/lememe/leme/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryHasBuiltins(t *testing.T) {
	r, err := NewDefaultRegistry(nil)
	require.NoError(t, err)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, LifetimeValue, all[0].Name)
	assert.Equal(t, SalesDashboard, all[1].Name)

	rep, err := r.LookupPath("/dashboard")
	require.NoError(t, err)
	assert.Equal(t, SalesDashboard, rep.Name)

	rep, err = r.LookupPath("/ltv")
	require.NoError(t, err)
	assert.Equal(t, LifetimeValue, rep.Name)
}

func TestConfiguredReports(t *testing.T) {
	r, err := NewDefaultRegistry([]config.ReportConfig{
		{Name: SalesDashboard, SQL: "SELECT 1 AS total_orders"},
		{Name: LifetimeValue, Path: "/customers/ltv", SQL: "SELECT 2"},
		{Name: "top-products", Path: "/top-products", Description: "Best sellers", SQL: "SELECT 3"},
		{Name: "hidden", SQL: "SELECT 4"},
	})
	require.NoError(t, err)

	rep, err := r.Lookup(SalesDashboard)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 AS total_orders", rep.SQL)
	assert.Equal(t, "/dashboard", rep.Path, "path kept when the override has none")
	assert.NotEmpty(t, rep.Description)

	_, err = r.LookupPath("/ltv")
	assert.ErrorIs(t, err, consts.ErrReportNotFound, "old path must be released")
	rep, err = r.LookupPath("/customers/ltv")
	require.NoError(t, err)
	assert.Equal(t, LifetimeValue, rep.Name)

	rep, err = r.LookupPath("/top-products")
	require.NoError(t, err)
	assert.Equal(t, "Best sellers", rep.Description)

	rep, err = r.Lookup("hidden")
	require.NoError(t, err)
	assert.Empty(t, rep.Path)

	assert.Len(t, r.All(), 4)
}

func TestRegisterRejects(t *testing.T) {
	tests := []struct {
		name string
		rep  Report
	}{
		{"empty name", Report{SQL: "SELECT 1"}},
		{"empty sql", Report{Name: "x", SQL: "   "}},
		{"relative path", Report{Name: "x", Path: "x", SQL: "SELECT 1"}},
		{"reserved path", Report{Name: "x", Path: "/status", SQL: "SELECT 1"}},
		{"reports prefix", Report{Name: "x", Path: "/reports/x", SQL: "SELECT 1"}},
		{"duplicate name", Report{Name: SalesDashboard, Path: "/other", SQL: "SELECT 1"}},
		{"duplicate path", Report{Name: "other", Path: "/dashboard", SQL: "SELECT 1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewDefaultRegistry(nil)
			require.NoError(t, err)
			assert.Error(t, r.Register(tt.rep))
		})
	}
}

func TestConfiguredPathCollision(t *testing.T) {
	_, err := NewDefaultRegistry([]config.ReportConfig{
		{Name: LifetimeValue, Path: "/dashboard", SQL: "SELECT 1"},
	})
	assert.Error(t, err)
}

func TestLookupUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("nope")
	assert.ErrorIs(t, err, consts.ErrReportNotFound)
	assert.ErrorIs(t, r.Replace(Report{Name: "nope", SQL: "SELECT 1"}), consts.ErrReportNotFound)
}

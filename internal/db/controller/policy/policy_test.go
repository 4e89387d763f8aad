package policy

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/db/models"
)

// setupTestDB creates a migrated file-backed SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "policy.db")), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")

	require.NoError(t, Migrate(db), "failed to migrate test database")

	return db
}

func TestNilDB(t *testing.T) {
	require.ErrorIs(t, Migrate(nil), ErrDBNil)

	_, err := Load(nil)
	require.ErrorIs(t, err, ErrDBNil)

	require.ErrorIs(t, Seed(nil, nil, nil, ""), ErrDBNil)
}

func TestSeedAndLoad(t *testing.T) {
	db := setupTestDB(t)

	groups := []auth.GroupRole{
		{Group: "CN=Domain Admins", Role: auth.RoleAdmin},
		{Group: "auditors", Role: auth.RoleReadonly},
	}

	require.NoError(t, Seed(db, auth.DefaultRoleTable(), groups, models.GroupSourceLDAP))

	p, err := Load(db)
	require.NoError(t, err)

	expected := auth.DefaultRoleTable()
	for name, perms := range expected {
		assert.ElementsMatch(t, perms, p.Roles[name], name)
	}

	assert.Equal(t, groups, p.GroupRoles, "mappings keep their order")

	ev := auth.NewEvaluator(p.Roles)
	assert.True(t, ev.HasPermission(&auth.User{Role: auth.RoleReadonly}, auth.PermDemandasView))
	assert.False(t, ev.HasPermission(&auth.User{Role: auth.RoleReadonly}, auth.PermSistemaAdmin))

	var system int64
	require.NoError(t, db.Model(&models.Role{}).Where("is_system = ?", true).Count(&system).Error)
	assert.Equal(t, int64(3), system)
}

func TestSeedIsIdempotent(t *testing.T) {
	db := setupTestDB(t)

	groups := []auth.GroupRole{{Group: "staff", Role: auth.RoleUser}}

	require.NoError(t, Seed(db, auth.DefaultRoleTable(), groups, ""))
	require.NoError(t, Seed(db, auth.DefaultRoleTable(), groups, ""))

	var perms, links, mappings int64

	require.NoError(t, db.Model(&models.Permission{}).Count(&perms).Error)
	require.NoError(t, db.Model(&models.RolePermission{}).Count(&links).Error)
	require.NoError(t, db.Model(&models.GroupMapping{}).Count(&mappings).Error)

	assert.Equal(t, int64(len(auth.AllPermissions())), perms)

	total := 0
	for _, p := range auth.DefaultRoleTable() {
		total += len(p)
	}

	assert.Equal(t, int64(total), links)
	assert.Equal(t, int64(1), mappings)

	// Remapping a group replaces its role.
	require.NoError(t, Seed(db, nil, []auth.GroupRole{{Group: "staff", Role: auth.RoleReadonly}}, ""))

	p, err := Load(db)
	require.NoError(t, err)
	assert.Equal(t, []auth.GroupRole{{Group: "staff", Role: auth.RoleReadonly}}, p.GroupRoles)

	mapping := models.GroupMapping{}
	require.NoError(t, db.Take(&mapping).Error)
	assert.False(t, mapping.UpdatedAt.IsZero())
	assert.False(t, mapping.UpdatedAt.Before(mapping.CreatedAt))
}

func TestSeedErrors(t *testing.T) {
	testCases := []struct {
		name   string
		roles  auth.RoleTable
		groups []auth.GroupRole
		err    error
	}{
		{
			name:   "unknown role",
			roles:  auth.RoleTable{"auditor": {auth.PermRelatoriosView}},
			groups: []auth.GroupRole{{Group: "g", Role: "ghost"}},
			err:    ErrUnknownRole,
		},
		{
			name:  "malformed permission",
			roles: auth.RoleTable{"auditor": {"relatorios"}},
			err:   ErrInvalidPermission,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db := setupTestDB(t)

			require.ErrorIs(t, Seed(db, tc.roles, tc.groups, ""), tc.err)

			var roles int64
			require.NoError(t, db.Model(&models.Role{}).Count(&roles).Error)
			assert.Zero(t, roles, "failed seed is rolled back")
		})
	}
}

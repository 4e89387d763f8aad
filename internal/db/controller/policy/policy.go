// Package policy loads and seeds the role based access policy stored in
// the database.
package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/db/models"
)

var (
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
	// ErrUnknownRole is returned when a group is mapped to a role that does
	// not exist.
	ErrUnknownRole = errors.New("unknown role")
	// ErrInvalidPermission is returned for a permission not in
	// resource:action format.
	ErrInvalidPermission = errors.New("permission must be resource:action")
)

// Policy is the authorization data held in the database.
type Policy struct {
	Roles      auth.RoleTable
	GroupRoles []auth.GroupRole
}

// Migrate creates or updates the policy tables.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return ErrDBNil
	}

	return db.AutoMigrate(
		&models.Role{},
		&models.Permission{},
		&models.RolePermission{},
		&models.Group{},
		&models.GroupMapping{},
	)
}

// Load reads the role table and the ordered group mappings.
func Load(db *gorm.DB) (*Policy, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var roles []models.Role
	if err := db.Order("name").Find(&roles).Error; err != nil {
		return nil, err
	}

	table := make(auth.RoleTable, len(roles))
	for _, r := range roles {
		table[r.Name] = []string{}
	}

	var links []models.RolePermission
	if err := db.Preload("Role").Preload("Permission").Find(&links).Error; err != nil {
		return nil, err
	}

	for _, l := range links {
		table[l.Role.Name] = append(table[l.Role.Name], l.Permission.Name)
	}

	for name := range table {
		slices.Sort(table[name])
	}

	var mappings []models.GroupMapping
	if err := db.Preload("Group").Preload("Role").Order("position, id").Find(&mappings).Error; err != nil {
		return nil, err
	}

	groups := make([]auth.GroupRole, 0, len(mappings))
	for _, m := range mappings {
		groups = append(groups, auth.GroupRole{Group: m.Group.Name, Role: m.Role.Name})
	}

	return &Policy{Roles: table, GroupRoles: groups}, nil
}

// Seed stores roles and group mappings. Existing rows are kept and missing
// ones added, so seeding twice is harmless. Groups are recorded with source.
func Seed(db *gorm.DB, roles auth.RoleTable, groups []auth.GroupRole, source models.GroupSource) error {
	if db == nil {
		return ErrDBNil
	}

	if source == "" {
		source = models.GroupSourceAny
	}

	builtin := auth.DefaultRoleTable()

	return db.Transaction(func(tx *gorm.DB) error {
		names := make([]string, 0, len(roles))
		for name := range roles {
			names = append(names, name)
		}

		slices.Sort(names)

		for _, name := range names {
			_, system := builtin[name]

			role := models.Role{}
			if err := tx.Where(models.Role{Name: name}).
				Attrs(models.Role{IsSystem: system}).
				FirstOrCreate(&role).Error; err != nil {
				return err
			}

			for _, p := range roles[name] {
				if err := grant(tx, role.ID, p); err != nil {
					return err
				}
			}
		}

		for i, gr := range groups {
			if err := mapGroup(tx, gr, source, i); err != nil {
				return err
			}
		}

		return nil
	})
}

func grant(tx *gorm.DB, roleID uint, name string) error {
	resource, action, ok := strings.Cut(name, ":")
	if !ok || resource == "" || action == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPermission, name)
	}

	perm := models.Permission{}
	if err := tx.Where(models.Permission{Name: name}).
		Attrs(models.Permission{Resource: resource, Action: action}).
		FirstOrCreate(&perm).Error; err != nil {
		return err
	}

	return tx.Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.RolePermission{RoleID: roleID, PermissionID: perm.ID}).Error
}

func mapGroup(tx *gorm.DB, gr auth.GroupRole, source models.GroupSource, position int) error {
	role := models.Role{}

	err := tx.Where(models.Role{Name: gr.Role}).Take(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %q mapped from group %q", ErrUnknownRole, gr.Role, gr.Group)
	}

	if err != nil {
		return err
	}

	group := models.Group{}
	if err = tx.Where(models.Group{Name: gr.Group, Source: source}).FirstOrCreate(&group).Error; err != nil {
		return err
	}

	return tx.Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role_id", "position", "updated_at"}),
		}).
		Create(&models.GroupMapping{GroupID: group.ID, RoleID: role.ID, Position: position}).Error
}

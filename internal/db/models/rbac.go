package models

import "time"

// Role is a named permission set. User.Role refers to it by Name.
type Role struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;size:64;not null"`
	Description string `gorm:"size:255"`
	IsSystem    bool   `gorm:"not null;default:false"` // admin, user or readonly
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Role) TableName() string { return "authsession_roles" }

// Permission is a resource:action grant, split for querying by resource.
type Permission struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:128;not null"` // demandas:view
	Resource  string `gorm:"index;size:64;not null"`
	Action    string `gorm:"size:64;not null"`
	CreatedAt time.Time
}

func (Permission) TableName() string { return "authsession_permissions" }

// RolePermission grants Permission to every holder of Role.
type RolePermission struct {
	RoleID       uint       `gorm:"primaryKey"`
	PermissionID uint       `gorm:"primaryKey"`
	Role         Role       `gorm:"constraint:OnDelete:CASCADE"`
	Permission   Permission `gorm:"constraint:OnDelete:CASCADE"`
}

func (RolePermission) TableName() string { return "authsession_role_permissions" }

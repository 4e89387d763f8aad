package models

import "time"

// GroupSource is the provider family a group name was reported by.
type GroupSource string

// Group sources. GroupSourceAny matches whichever provider sent the name.
const (
	GroupSourceLDAP   GroupSource = "ldap"
	GroupSourceOAuth2 GroupSource = "oauth2"
	GroupSourceSAML   GroupSource = "saml"
	GroupSourceAny    GroupSource = "any"
)

// Group is an external group name, unique per source.
type Group struct {
	ID        uint        `gorm:"primaryKey"`
	Name      string      `gorm:"size:255;not null;uniqueIndex:idx_authsession_group"` // cn, DN or claim value
	Source    GroupSource `gorm:"size:16;not null;uniqueIndex:idx_authsession_group"`
	CreatedAt time.Time
}

func (Group) TableName() string { return "authsession_groups" }

// GroupMapping gives members of Group the role Role when the backend sent
// no role itself. Lower Position wins.
type GroupMapping struct {
	ID        uint  `gorm:"primaryKey"`
	GroupID   uint  `gorm:"not null;uniqueIndex"`
	RoleID    uint  `gorm:"not null"`
	Position  int   `gorm:"not null;default:0"`
	Group     Group `gorm:"constraint:OnDelete:CASCADE"`
	Role      Role  `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (GroupMapping) TableName() string { return "authsession_group_mappings" }

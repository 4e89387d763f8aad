// Package models contains the gorm models of the policy database and of
// the SQL session storage.
package models

// Package mocks contains gomock mocks of the provider contract.
//
// Regenerate with go generate ./internal/mocks after changing auth.Provider.
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=provider_mock.go github.com/GoPowerDNS-Admin/authsession/internal/auth Provider

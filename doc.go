// Package main provides the entry point of authsession. The command line
// logs in through the configured identity providers, keeps the session in
// durable storage shared by every invocation, answers permission checks and
// starts a development backend implementing every consumed endpoint.
package main

// Package types defines the entity types, the Attributable capability, the
// principal provider contract, backend configuration, and the standard errors
// shared by the crudkit store and controller packages.
package types

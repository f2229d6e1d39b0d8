package tenant

import "errors"

var (
	// ErrTenantRequired is raised when a scoped handle is requested without
	// a tenant identifier in schema or field mode. This is a configuration
	// fault (500-class), never a client error.
	ErrTenantRequired = errors.New("tenant: tenant id is required for scoped access")

	// ErrBadMode indicates a misconfigured isolation mode.
	ErrBadMode = errors.New("tenant: invalid configuration")

	// ErrBadIdentifier is raised when a tenant id cannot be turned into a
	// safe schema name.
	ErrBadIdentifier = errors.New("tenant: invalid schema identifier")

	// ErrNotFound is returned for rows absent within the caller's tenant
	// scope. A row belonging to another tenant is indistinguishable from a
	// nonexistent one.
	ErrNotFound = errors.New("tenant: not found")

	// ErrExists is returned when registering a tenant id already taken.
	ErrExists = errors.New("tenant: already exists")
)

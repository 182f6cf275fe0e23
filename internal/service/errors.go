package service

import "fmt"

// TenantProvisioningError wraps an unexpected failure during database
// creation, preserving the underlying cause chain and the driver's native
// error code when one was available.
type TenantProvisioningError struct {
	DBName string
	Code   string
	Err    error
}

func (e *TenantProvisioningError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provisioning tenant database %q failed (code %s): %v", e.DBName, e.Code, e.Err)
	}
	return fmt.Sprintf("provisioning tenant database %q failed: %v", e.DBName, e.Err)
}

func (e *TenantProvisioningError) Unwrap() error { return e.Err }

// TenantNotFoundError indicates a drop was requested for a database absent
// from the server's catalog. It is returned before any destructive statement
// is attempted.
type TenantNotFoundError struct {
	DBName string
}

func (e *TenantNotFoundError) Error() string {
	return fmt.Sprintf("tenant database %q not found", e.DBName)
}

// NoDefaultTenantError indicates no record in created status exists when
// exactly one was expected.
type NoDefaultTenantError struct{}

func (e *NoDefaultTenantError) Error() string {
	return "no default tenant database: no record in created status"
}

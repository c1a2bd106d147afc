// Package tenant holds the tenancy policy and the tenant registry.
//
// Policy decides which tenant ids may be used. Registry records a tenant the
// first time one of its sessions commits, under tn/{tenant}.
package tenant

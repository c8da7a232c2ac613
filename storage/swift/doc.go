/*
Package swift keeps the metadata and chunk keys of an array as objects in an
OpenStack Swift container.  A [store.swift] table configures the connection:

	user       account name (required)
	key        password or API key (required)
	auth       authentication URL (required)
	container  container holding the objects, created on first use (required)
	project    tenant for v3 authentication
	domain     domain of the tenant for v3 authentication

A store path such as "plates/plate1.zarr" becomes a key prefix inside the
container, so several arrays can share one container.
*/
package swift

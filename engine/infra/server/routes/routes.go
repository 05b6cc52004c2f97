package routes

import "fmt"

// APIVersion is the version segment of every API path.
const APIVersion = "v1"

// Version returns the current API version string used in routing (e.g., "v1").
func Version() string {
	return APIVersion
}

// Base returns the versioned API base path (e.g., "/api/v1").
func Base() string {
	return fmt.Sprintf("/api/%s", Version())
}

func buildResourceRoute(resource string) string {
	return Base() + "/" + resource
}

func Documents() string { return buildResourceRoute("documents") }
func Uploads() string   { return buildResourceRoute("uploads") }
func Chunks() string    { return buildResourceRoute("chunks") }
func Search() string    { return buildResourceRoute("search") }
func Retrieve() string  { return buildResourceRoute("retrieve") }
func Ask() string       { return buildResourceRoute("ask") }
func Stats() string     { return buildResourceRoute("stats") }
func Reset() string     { return buildResourceRoute("reset") }

// Health is the unversioned liveness and readiness probe.
func Health() string {
	return "/healthz"
}

// Package api provides the read-only HTTP status API for meterflow.
//
// It exposes ingestion progress from the processing registry and the
// reconstructed silver series of each group to dashboards and scripts:
//
//	GET /health                               liveness and dependency checks
//	GET /api/v1/registry                      progress and every group entry
//	GET /api/v1/groups/{group}/silver         silver records of a group
//	GET /api/v1/groups/{group}/silver?device= records of one device
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

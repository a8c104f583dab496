/*
Package proxy implements a REST API for resolving Tuya BLE device credentials.

Endpoints:

	GET  /health                                   Liveness check; no authentication.
	GET  /api/1/devices/{address}/credentials      Resolve a device. Query parameters: force=true
	                                               logs in again, persist=false skips saving.
	POST /api/1/cache/build                        Warm the cache for every known context.
	GET  /api/1/cache                              Describe the cache without secrets.

Requests to /api/1 must carry an HS256-signed bearer token minted with [NewToken] for the proxy's
audience. Responses use the envelope {"response": ..., "error": ..., "error_description": ...}.
*/
package proxy

// Package model defines shared data types used across the market service.
//
// Conventions:
//   - Prices and quantities: integer zeny / units as shown on the market site
//   - History timestamps: int64 microseconds since Unix epoch
//   - Server IDs: -1 = all servers, 1-4 = public API IDs, 129/229/529/729 = GNJOY internal IDs
//   - JSON field names follow the upstream site (camelCase) so cached payloads can be served as-is
package model

// Component for caching behavior-profile snapshots (as JSON strings) with a fixed TTL and purging.
//
// Includes an interface and implementations using redis and in-process memory.
//
// The profile store is external and read-mostly; caching snapshots keeps trigger evaluation off the profile store's hot path.
package cachestore

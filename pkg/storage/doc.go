// Package storage defines the tenant settings record and the lookup
// contracts consumed by inbound authentication and outbound signing.
//
// Adapters (memory, postgres) implement TenantStore. Both also satisfy
// ConsumerStore by serving the consumer public key kept on the record.
package storage

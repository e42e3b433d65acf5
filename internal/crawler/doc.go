// Package crawler defines the core types shared across the harvester: work
// units and ranges, fetched pages and extracted items, the failure taxonomy,
// and the interfaces implemented by fetchers, adapters, stores and sinks.
package crawler

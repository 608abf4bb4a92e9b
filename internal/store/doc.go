package store

// Package store is the persisted key-value layer shared by the scheduling
// coordinator and the HTTP surface.
//
// It deliberately traffics in raw JSON bytes for the schema'd keys
// (webhooks, scheduledJobs, quickActions): normalization belongs to the
// owning packages, so storage drivers never chase schema generations.

// Package ledger contains the Ledger Sync bounded context.
// This context keeps local business records (contacts, invoices, payments)
// consistent with an external accounting ledger that is edited independently.
//
// Key concepts:
//   - Document: normalized field map for one record, the unit of comparison
//   - Fingerprint: deterministic content hash over a Document
//   - SyncState: per-record baseline linking a local record to its remote twin
//   - ChangeClass: outcome of comparing both sides against the baseline
//   - ConflictRecord: captured divergence awaiting a human decision
//   - SyncRun: one orchestrated pull/push execution with live counters
//
// Design Pattern: Ports & Adapters
//   - Ports (RemoteLedger, LocalStore, TokenProvider, RunLocker) are defined here
//   - Adapters (HTTP ledger client, gorm-backed stores) are in the infrastructure layer
package ledger

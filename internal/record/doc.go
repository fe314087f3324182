// Package record defines the AnalysisRecord persisted for every distinct
// image fingerprint and the JSON document layout it is written as.
//
// A record moves through pending -> processing -> complete|failed within a
// single attempt and never regresses. Per-analyzer results are kept side by
// side so that one analyzer's failure never hides another's payload.
package record

// Package domain holds the records shared by matching, the ledger, the
// dispatcher and the cadence sweeps, plus the error taxonomy they report.
package domain

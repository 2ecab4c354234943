// Package tablespec compiles CUE table definitions into runnable
// configuration: a record schema, a validation ruleset, and merge policy
// options.
//
// A table definition looks like:
//
//	table: sales: {
//		attributes: {
//			region:  "string"
//			product: "string"
//			sales:   "float"
//		}
//		natural_key: ["region", "product"]
//
//		rules: {
//			no_dupes:    {kind: "duplicate", severity: "BLOCKING"}
//			sales_range: {kind: "range", severity: "WARN", column: "sales", min: 0, max: 1e6}
//		}
//
//		merge: {
//			retirement:   "SOFT_RETIRE"
//			out_of_order: "ABORT"
//		}
//	}
//
// Compilation uses the CUE SDK's Go API directly (not CLI subprocess).
// Attribute declaration order follows source order, which downstream
// CSV headers and CLI output preserve.
package tablespec

// Package audit defines the audit trail entry recorded for every mutating
// API request and the rules that derive its action from the request.
package audit

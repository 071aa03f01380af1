// Package bridge talks to the local file-operations bridge and answers with
// deterministic simulated data whenever the bridge cannot.
//
// The bridge is independent of the tool server registry. Every operation
// returns a Result and never an error; synthetic results carry a "note"
// field so callers can tell them apart from real ones.
package bridge

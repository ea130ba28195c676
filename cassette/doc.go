// Package cassette stores recorded rxfetch exchanges on disk and replays
// them.
//
// A Cassette is both an rxfetch.Sink and an rxfetch.Transport. Used as the
// sink, it collects the nock transcript of each exchange and saves it as a
// YAML entry. Used as the transport, it answers requests from the saved
// entries. The Mode controls whether requests may reach the network: Auto
// sends a request only when no entry exists, ReplayOnly never sends one,
// Record always does, and Passthrough never touches the file.
package cassette

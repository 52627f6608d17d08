// Package commands defines the roomseal CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - init         Create the local identity and publish its public key
//   - fingerprint  Print the identity fingerprint
//   - genkey       Generate and distribute a fresh room key
//   - request      Ask the room's members for the current key
//   - accept       Accept the suggested key for a room
//   - reject       Reject the suggested key for a room
//   - send         Encrypt and send a message to a room
//   - decrypt      Decrypt an envelope frame
//   - listen       Run the event loop, answering key requests
//   - sync         Bulk-fetch suggested keys for every joined room
//   - reset        Discard the identity and start over
//   - status       Show key state per room
//
// # Implementation
//
// The root command loads the config file, applies flag overrides and
// builds the dependency graph (stores, protocol, coordinator) before
// any subcommand runs. Commands that talk to a server refuse to run
// without --server; purely local commands work offline.
package commands

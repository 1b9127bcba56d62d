package types

// Version is the canonical project version.
// The CLI, the host IPC protocol and the logged session metadata share it.
const Version = "0.3.0"

package types

// Version is the canonical arfor client version.
// The CLI, the user agent, and notification payloads all report this value.
const Version = "0.3.0"

package expflow

// Version is the expflow release, reported by the CLI.
const Version = "0.4.0"

package version

// Version is the current version of hwinfo.
// Bump it for every build that changes reported data or reset behavior.
const Version = "0.3.0"

// AppName is used for the environment prefix and the log/database defaults.
const AppName = "hwinfo"

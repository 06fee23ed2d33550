package version

// Version is the current version of chrootctl.
// Bump it for every release; semantic versioning MAJOR.MINOR.PATCH.
const Version = "0.3.0"

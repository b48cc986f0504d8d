package handlers

// BackendVersion is the current version of the service.
const BackendVersion = "0.3.0"

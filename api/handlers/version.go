package handlers

import (
	"net/http"
)

// VersionResponse contains the build version info.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Program string `json:"program"`
}

// GetVersion returns a handler that reports the running build.
func GetVersion(info VersionResponse) http.HandlerFunc {
	if info.Version == "" {
		info.Version = "dev"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, info)
	}
}

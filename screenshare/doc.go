// Package screenshare implements an MCP server that exposes the local screen: display
// enumeration, single snapshots, and time-bounded burst streams with stride thinning
// and a safety auto-stop. Tool results carry saved file paths rather than inline image
// data; saved frames are additionally served as screen://frames/ resources.
package screenshare

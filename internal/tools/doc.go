// Package tools runs short-lived helper commands for the supervisor, such as
// asking a node binary for its version.
package tools

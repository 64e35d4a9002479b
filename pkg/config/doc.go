// Package config loads the miller.yaml configuration file.
//
// The file is optional. Values are layered, later layers winning: built-in
// defaults, the file, environment variables, and finally command line flags
// (applied by the caller).
package config

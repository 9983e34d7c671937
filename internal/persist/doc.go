// Package persist stores debugging sessions and their breakpoints between
// runs.
//
// A Document holds one record per session: its properties and the property
// bags of its breakpoints. Stores read and write documents as TOML or YAML
// files. A Watcher reports external edits of the store file so a caller can
// reload it.
package persist

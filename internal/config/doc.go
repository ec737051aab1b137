// Package config defines the format-agnostic configuration model for a
// training run, along with the Loader interface for reading it from a
// concrete source.
//
// The `config.Run` is the single source of truth for the `app` package when
// it assembles a trainer. Concrete implementations of Loader, such as for
// HCL, are provided in separate packages.
package config

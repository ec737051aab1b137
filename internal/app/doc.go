// Package app encapsulates the application's dependencies, configuration,
// and lifecycle: it loads the run configuration, registers the built-in
// factories, assembles the trainer, and drives the training strategy.
package app

// Package app bootstraps the aolcore control plane.
//
// It follows a two-phase pattern: NewApplication loads configuration,
// initializes logging and constructs every component in dependency order;
// Run starts the background loops and blocks until the context is
// cancelled, then shuts the components down in reverse order.
package app

// Package domain contains the core entities of the study pipeline: jobs,
// their inputs, the fixed stage graph with its progress bands, and the
// artifacts each stage produces. It is independent of any specific
// infrastructure or delivery mechanism.
package domain

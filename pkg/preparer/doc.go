// Package preparer is the Runtime Preparers (C3): per-Runtime-kind
// strategies for turning a Package into a pod that's ready to launch.
// PrepareCache does the expensive, cacheable, once-per-(name,version,
// stage) setup (e.g. building a venv); HydratePod installs that cached
// artifact into a freshly created pod. Both are no-ops for a
// prebuilt_container package, whose image already carries everything.
package preparer

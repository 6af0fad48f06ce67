package tablecache

// Version is the release of the tablecache module. Builds may override it
// with -ldflags "-X github.com/mesh-intelligence/tablecache/pkg/tablecache.Version=...".
var Version = "v0.1.0"

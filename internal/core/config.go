package core

// Config holds runtime configuration for the bridge.
type Config struct {
	Workers         int      // number of pinned worker goroutines; 0 means runtime.NumCPU()
	MemoryLimitMB   int      // per-instance heap limit; 0 means unlimited
	MaxBodyBytes    int64    // max request body read by the front end
	WorkDir         string   // root for module resolution and __main__ derivation; "" means os.Getwd()
	SearchPath      []string // extra module roots searched after WorkDir
	CheckExtensions bool     // reject extensions not declared safe for multiple instances
	DatabasePath    string   // SQLite file backing the db binding; "" disables it
}

// DefaultMaxBodyBytes bounds request bodies when Config.MaxBodyBytes is zero.
const DefaultMaxBodyBytes = 8 << 20

package bfio

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// Default runtime settings used when no configuration is given.
const (
	DefaultCacheBytes          = 1000000000
	DefaultDataCopyConcurrency = 8
	DefaultFileIOConcurrency   = 8
)

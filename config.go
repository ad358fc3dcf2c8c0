package heapusage

import (
	"os"
	"strconv"
)

// Config is read once at Engine construction and frozen thereafter.
type Config struct {
	// Output is the report destination. Required; opened truncate at
	// construction and append for every write after that.
	Output string

	// DoubleFree retains freed records so a second free of the same
	// pointer can be reported as an invalid deallocation.
	DoubleFree bool

	// Overflow enables the guarded allocator with a trailing guard page.
	Overflow bool

	// UseAfterFree enables the guarded allocator's quarantine, protecting
	// freed pages until they are evicted.
	UseAfterFree bool

	// Leak gates the per-callstack leak detail block in the report.
	Leak bool

	// NoSyms suppresses symbolization of callstack addresses in output.
	NoSyms bool

	// MinSize: allocations strictly smaller than this are not tracked,
	// and in guarded mode fall through to the underlying allocator. Also
	// filters the leak detail block.
	MinSize uint64

	// Signal, if nonzero, installs an on-demand report handler on that
	// signal number.
	Signal int
}

// guardedEnabled reports whether the guarded allocator (C3) should be
// constructed at all, mirroring hu_enable_humalloc in the original.
func (c Config) guardedEnabled() bool {
	return c.Overflow || c.UseAfterFree
}

func getEnvBool(name string) bool {
	v, ok := os.LookupEnv(name)
	return ok && v == "1"
}

func getEnvUint(name string) uint64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func getEnvInt(name string) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// ConfigFromEnv loads a Config the way the original project's constructor
// function did: from a fixed set of HU_* environment variables. Missing
// optional knobs default silently; a missing output path logs one warning
// to stderr and falls back to "hulog.txt".
func ConfigFromEnv() Config {
	output := os.Getenv("HU_FILE")
	if output == "" {
		output = "hulog.txt"
		newDiagLogger().Warn().Str("path", output).Msg("HU_FILE not set, using default report path")
	}

	return Config{
		Output:       output,
		DoubleFree:   getEnvBool("HU_DOUBLEFREE"),
		Overflow:     getEnvBool("HU_OVERFLOW"),
		UseAfterFree: getEnvBool("HU_USEAFTERFREE"),
		Leak:         getEnvBool("HU_LEAK"),
		NoSyms:       getEnvBool("HU_NOSYMS"),
		MinSize:      getEnvUint("HU_MINSIZE"),
		Signal:       getEnvInt("HU_SIGNO"),
	}
}

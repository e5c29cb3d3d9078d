package config

import (
    "os"
    "time"
)

// CacheConfig controls the Redis cache in front of ledger reads. Sell
// orders, credit classes and allowed denoms change slowly relative to how
// often selection runs, so short TTLs cut most of the REST round trips
// without risking stale fills: the ledger itself still rejects a buy
// against a closed order.
type CacheConfig struct {
    Enabled bool
    TTL     time.Duration
    Prefix  string
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
// Defaults are used when variables are not set.
func LoadCacheConfig() CacheConfig {
    return CacheConfig{
        Enabled: getenv("LEDGER_CACHE_ENABLED", "true") == "true",
        TTL:     parseDur(getenv("LEDGER_CACHE_TTL", "30s")),
        Prefix:  getenv("LEDGER_CACHE_PREFIX", "ledger"),
    }
}

func getenv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func parseDur(s string) time.Duration {
    d, err := time.ParseDuration(s)
    if err != nil {
        return time.Second
    }
    return d
}

package config // package config loads application configuration from environment variables

import (
    "log"     // log is used to report configuration errors and halt execution
    "os"      // os provides access to environment variables
    "strconv" // strconv converts strings to other types
    "strings" // strings splits list-valued variables
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable. Secrets (wallet mnemonic, gateway keys, auth
// HMAC) are opaque strings provided by the environment; the process never
// generates or persists them.
type Config struct {
    Env  string // application environment (e.g. "dev", "prod")
    Port string // HTTP port to listen on

    // Prepaid-balance store (optional; disabled when DBHost is empty).
    DBUser string // database username
    DBPass string // database password (optional)
    DBHost string // database host address
    DBPort string // database port number
    DBName string // database name

    // Ledger access.
    LedgerRESTURL    string // REST endpoint of the ledger node
    LedgerIndexerURL string // GraphQL indexer endpoint
    LedgerChainID    string // chain id used when signing
    Bech32Prefix     string // account address prefix
    NativeDenom      string // native token bank denom
    GasLimit         uint64 // fixed gas limit per broadcast
    FeeMicro         int64  // flat fee in micro-units of the native denom
    MarketplaceURL   string // marketplace fallback link base

    // Wallet. Empty mnemonic means no wallet is configured and every
    // retirement falls back to the marketplace.
    WalletMnemonic       string
    WalletDerivationPath string

    // Payment gateway.
    PaymentProvider     string   // "crypto" or "stripe"
    StripeAPIURL        string   // gateway base URL
    StripeSecretKey     string   // bearer secret
    StripeWebhookSecret string   // webhook signature secret (optional)
    USDCDenoms          []string // bank denoms treated as USDC-equivalent

    // Pool / batch.
    PoolStatePath  string            // JSON state file for contributions
    BatchStatePath string            // JSON state file for batch executions
    ReconStatePath string            // JSON state file for reconciliation runs
    AuthStatePath  string            // JSON state file for auth sessions
    FeeBasisPoints int64             // operations fee taken off each monthly pool
    CreditType     string            // default credit type for monthly batches
    Jurisdiction   string            // default retirement jurisdiction
    BatchReason    string            // base retirement reason for monthly batches
    MonthlyBatch   bool              // run the monthly driver on a schedule
    PriceTierTable map[string]string // gateway price id -> tier id

    // Auth.
    AuthSecret           string   // HMAC / hashing secret
    SessionTTLMin        int      // pending-session lifetime in minutes
    MaxVerifyAttempts    int      // email code attempt budget
    RecoveryTTLHours     int      // recovery token lifetime in hours
    OAuthProviders       []string // allowlisted oauth providers
    DashboardTokenTTLMin int      // dashboard JWT lifetime in minutes

    BcryptCost        int  // bcrypt cost for API key hashing
    CrossChainEnabled bool // feature flag for the cross-chain payment path
}

// Load reads configuration values from environment variables and returns a
// Config. Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
    return Config{
        Env:  getenv("APP_ENV", "dev"),
        Port: getenv("APP_PORT", "8080"),

        DBUser: os.Getenv("DB_USER"),
        DBPass: os.Getenv("DB_PASS"),
        DBHost: os.Getenv("DB_HOST"),
        DBPort: getenv("DB_PORT", "3306"),
        DBName: getenv("DB_NAME", "offsetpool"),

        LedgerRESTURL:    getenv("LEDGER_REST_URL", "http://localhost:1317"),
        LedgerIndexerURL: getenv("LEDGER_INDEXER_URL", "http://localhost:5000/indexer/v1/graphql"),
        LedgerChainID:    getenv("LEDGER_CHAIN_ID", "regen-1"),
        Bech32Prefix:     getenv("LEDGER_BECH32_PREFIX", "regen"),
        NativeDenom:      getenv("LEDGER_NATIVE_DENOM", "uregen"),
        GasLimit:         uint64(envInt64("LEDGER_GAS_LIMIT", 400000)),
        FeeMicro:         envInt64("LEDGER_FEE_MICRO", 5000),
        MarketplaceURL:   getenv("MARKETPLACE_URL", "https://app.regen.network/storefront"),

        WalletMnemonic:       os.Getenv("WALLET_MNEMONIC"),
        WalletDerivationPath: getenv("WALLET_DERIVATION_PATH", "m/44'/118'/0'/0/0"),

        PaymentProvider:     getenv("PAYMENT_PROVIDER", "crypto"),
        StripeAPIURL:        getenv("STRIPE_API_URL", "https://api.stripe.com/v1"),
        StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
        StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
        USDCDenoms:          splitList(getenv("USDC_DENOMS", "uusdc")),

        PoolStatePath:  getenv("POOL_STATE_PATH", "data/pool.json"),
        BatchStatePath: getenv("BATCH_STATE_PATH", "data/batches.json"),
        ReconStatePath: getenv("RECON_STATE_PATH", "data/reconciliation.json"),
        AuthStatePath:  getenv("AUTH_STATE_PATH", "data/auth.json"),
        FeeBasisPoints: envInt64("FEE_BASIS_POINTS", 1000),
        CreditType:     getenv("DEFAULT_CREDIT_TYPE", "carbon"),
        Jurisdiction:   getenv("RETIREMENT_JURISDICTION", "US"),
        BatchReason:    getenv("BATCH_RETIREMENT_REASON", "Monthly community pool retirement"),
        MonthlyBatch:   envBool("MONTHLY_BATCH_ENABLED", false),
        PriceTierTable: parsePairs(os.Getenv("PRICE_TIER_TABLE")),

        AuthSecret:           must("AUTH_SECRET"),
        SessionTTLMin:        envInt("AUTH_SESSION_TTL_MIN", 15),
        MaxVerifyAttempts:    envInt("AUTH_MAX_ATTEMPTS", 5),
        RecoveryTTLHours:     envInt("AUTH_RECOVERY_TTL_HOURS", 72),
        OAuthProviders:       splitList(getenv("OAUTH_PROVIDERS", "google,github")),
        DashboardTokenTTLMin: envInt("DASHBOARD_TOKEN_TTL_MIN", 60),

        BcryptCost:        envInt("BCRYPT_COST", 10),
        CrossChainEnabled: envBool("CROSSCHAIN_ENABLED", false),
    }
}

// HasPrepaidStore reports whether the MySQL prepaid store is configured.
func (c Config) HasPrepaidStore() bool { return c.DBHost != "" }

// HasWallet reports whether a signing wallet is configured.
func (c Config) HasWallet() bool { return c.WalletMnemonic != "" }

// IsUSDCDenom reports whether the given bank denom is USDC-equivalent.
func (c Config) IsUSDCDenom(denom string) bool {
    for _, d := range c.USDCDenoms {
        if d == denom {
            return true
        }
    }
    return false
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

func envInt64(k string, d int64) int64 {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    if n, err := strconv.ParseInt(v, 10, 64); err == nil {
        return n
    }
    return d
}

// splitList parses a comma-separated list, trimming blanks.
func splitList(s string) []string {
    var out []string
    for _, p := range strings.Split(s, ",") {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    return out
}

// parsePairs parses "key=value,key=value" into a map. Malformed entries are
// dropped.
func parsePairs(s string) map[string]string {
    m := map[string]string{}
    for _, p := range strings.Split(s, ",") {
        kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
        if len(kv) == 2 && kv[0] != "" && kv[1] != "" {
            m[kv[0]] = kv[1]
        }
    }
    return m
}

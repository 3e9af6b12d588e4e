package mongostore

import "time"

// Config represents the configuration for the MongoDB connection.
type Config struct {
	ConnectionURL    string        `env:"MONGODB_URL,required"`                            // ConnectionURL is the URL of the deployment. Transactions need a replica set.
	Database         string        `env:"MONGODB_DATABASE" envDefault:"billing"`           // Database holds the billing collections.
	CollectionPrefix string        `env:"MONGODB_COLLECTION_PREFIX" envDefault:"billing_"` // CollectionPrefix is prepended to every model name.
	ConnectTimeout   time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s"`        // ConnectTimeout is the timeout for connecting to the database.
	MaxPoolSize      uint64        `env:"MONGODB_MAX_POOL_SIZE" envDefault:"100"`          // MaxPoolSize is the maximum number of connections in the pool.
	MinPoolSize      uint64        `env:"MONGODB_MIN_POOL_SIZE" envDefault:"1"`            // MinPoolSize is the minimum number of connections in the pool.
	MaxConnIdleTime  time.Duration `env:"MONGODB_MAX_CONN_IDLE_TIME" envDefault:"300s"`    // MaxConnIdleTime is the maximum time a pooled connection can stay idle.
	RetryAttempts    int           `env:"MONGODB_RETRY_ATTEMPTS" envDefault:"3"`           // RetryAttempts is the number of connection attempts.
	RetryInterval    time.Duration `env:"MONGODB_RETRY_INTERVAL" envDefault:"5s"`          // RetryInterval is the delay between attempts.
}

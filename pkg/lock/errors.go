package lock

import "errors"

var (
	ErrLockHeld                     = errors.New("lock is held by another owner")
	ErrInvalidTTL                   = errors.New("lock ttl must be positive")
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
)

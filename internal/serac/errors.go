package serac

import "fmt"

// ConfigError wraps a failure loading or validating the config file.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// IndexError wraps a failure in the local metadata index.
type IndexError struct{ Err error }

func (e *IndexError) Error() string { return fmt.Sprintf("index error: %v", e.Err) }
func (e *IndexError) Unwrap() error { return e.Err }

// StoreError wraps a failure talking to the object store backend.
type StoreError struct{ Err error }

func (e *StoreError) Error() string { return fmt.Sprintf("store error: %v", e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// CryptoError wraps a key-derivation or envelope failure that isn't an
// authentication failure (see IntegrityError for that).
type CryptoError struct{ Err error }

func (e *CryptoError) Error() string { return fmt.Sprintf("crypto error: %v", e.Err) }
func (e *CryptoError) Unwrap() error { return e.Err }

// ScanError wraps a failure walking the configured source roots.
type ScanError struct{ Err error }

func (e *ScanError) Error() string { return fmt.Sprintf("scan error: %v", e.Err) }
func (e *ScanError) Unwrap() error { return e.Err }

// NotFoundError indicates a requested path or object has no record in
// the index at the requested point in time.
type NotFoundError struct{ Path string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.Path) }

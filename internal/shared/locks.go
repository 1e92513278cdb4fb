package shared

import "fmt"

// ReservationSweepLockKey builds the redis key guarding the expiry sweep.
func ReservationSweepLockKey() string {
	return "stockledger:reservations:sweep:lock"
}

// IntegrityScanLockKey builds the redis key guarding a company integrity scan.
func IntegrityScanLockKey(companyID int64) string {
	return fmt.Sprintf("stockledger:integrity:%d:lock", companyID)
}

// Package backup takes consistent snapshots of the SQLite memory database,
// checks them, and prunes old ones by age tier.
package backup

import (
	"time"
)

// Config holds backup service configuration.
type Config struct {
	// DBPath is the SQLite database file to snapshot.
	DBPath string

	// Dir is where snapshots are written.
	Dir string

	// Interval between scheduled snapshots (default: 24h).
	Interval time.Duration

	Retention RetentionPolicy

	// Verify runs an integrity check on every new snapshot.
	Verify bool
}

// RetentionPolicy is how many snapshots to keep per age tier:
// hourly under a day, daily under a week, weekly under 30 days and monthly
// under a year. Anything older is removed.
type RetentionPolicy struct {
	Hourly  int
	Daily   int
	Weekly  int
	Monthly int
}

// DefaultRetention keeps 24 hourly, 7 daily, 4 weekly and 12 monthly
// snapshots.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

// Info describes a snapshot file.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Result describes a finished snapshot.
type Result struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Size     int64         `json:"size"`
	Verified bool          `json:"verified"`
}

// Status reports the service's health.
type Status struct {
	Status        string    `json:"status"` // healthy or warning
	Message       string    `json:"message"`
	LastBackup    time.Time `json:"last_backup"`
	NextBackup    time.Time `json:"next_backup"`
	TotalBackups  int       `json:"total_backups"`
	Dir           string    `json:"dir"`
	DiskSpaceUsed int64     `json:"disk_space_used"`
}

package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	filePrefix = "memorytap-"
	fileSuffix = ".db"
)

// listSnapshots returns the snapshot files in dir, newest first.
func listSnapshots(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Path:      filepath.Join(dir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// expired returns the snapshots the policy no longer keeps, as of now.
func expired(snapshots []Info, policy RetentionPolicy, now time.Time) []string {
	var drop []string
	tiers := make([][]Info, 4)

	for _, s := range snapshots {
		age := now.Sub(s.Timestamp)
		switch {
		case age < 24*time.Hour:
			tiers[0] = append(tiers[0], s)
		case age < 7*24*time.Hour:
			tiers[1] = append(tiers[1], s)
		case age < 30*24*time.Hour:
			tiers[2] = append(tiers[2], s)
		case age < 365*24*time.Hour:
			tiers[3] = append(tiers[3], s)
		default:
			drop = append(drop, s.Path)
		}
	}

	limits := []int{policy.Hourly, policy.Daily, policy.Weekly, policy.Monthly}
	for i, tier := range tiers {
		if len(tier) > limits[i] {
			for _, s := range tier[limits[i]:] {
				drop = append(drop, s.Path)
			}
		}
	}
	return drop
}

// prune deletes expired snapshots and returns how many were removed. It
// keeps going past individual failures.
func prune(dir string, policy RetentionPolicy, now time.Time) (int, error) {
	snapshots, err := listSnapshots(dir)
	if err != nil {
		return 0, err
	}

	var errs []error
	removed := 0
	for _, path := range expired(snapshots, policy, now) {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if err := errors.Join(errs...); err != nil {
		return removed, fmt.Errorf("delete old backups: %w", err)
	}
	return removed, nil
}

func diskUsage(snapshots []Info) int64 {
	var total int64
	for _, s := range snapshots {
		total += s.Size
	}
	return total
}

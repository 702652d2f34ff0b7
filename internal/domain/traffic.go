// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"fmt"
	"time"
)

// RepoRef identifies a single repository on the hosting provider.
type RepoRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// String returns the "owner/name" form used in logs.
func (r RepoRef) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// DailySample holds one day's clone counters for a repository as reported by the provider.
// It only lives between a fetch and the merge into the store.
type DailySample struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int64     `json:"count"`
	Uniques   int64     `json:"uniques"`
}

// TrafficReport is the typed clone-traffic response for one repository.
// Clones keeps the provider's order.
type TrafficReport struct {
	Count   int64         `json:"count"`
	Uniques int64         `json:"uniques"`
	Clones  []DailySample `json:"clones"`
}

// DownloadRecord is the merged, durable counter for one (repository, day) pair.
type DownloadRecord struct {
	RepoID          int64  `json:"repo_id"`
	Date            string `json:"date"`
	TotalDownloads  int64  `json:"total_downloads"`
	UniqueDownloads int64  `json:"unique_downloads"`
}

// RepoFailure records why a repository contributed nothing to a run.
type RepoFailure struct {
	Repo RepoRef
	Err  error
}

// RunSummary is the outcome of one pass over the configured repositories.
type RunSummary struct {
	NewDownloads  int64
	Processed     int
	SamplesMerged int
	Failed        []RepoFailure
}

/*
Package extract is the record source and archival collaborator of the
payment pipeline.

PURPOSE:
  A batch arrives as four delimited files sharing a timestamp prefix. This
  package finds complete file sets, reads them into record streams,
  fingerprints them for re-run detection, and moves them to a processed or
  error location afterwards.

FILE SET:
  <ts>-vpei.csv                     payment header
  <ts>-vpei_payment_details.csv     pay period lines
  <ts>-vpei_claim_details.csv       claim linkage
  <ts>-VBI_REQUESTEDABSENCE_SOM.csv requested absences
  <ts> has the layout 2006-01-02-15-04-05.

SEE ALSO:
  - payments/correlate.go: Joins the streams this package reads
  - pipeline/: Calls Discover, Read, Fingerprint and the Archiver
*/
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// TimestampLayout is the file set prefix layout.
const TimestampLayout = "2006-01-02-15-04-05"

// File suffixes, in fingerprint order.
const (
	HeaderFile            = "vpei.csv"
	PaymentDetailsFile    = "vpei_payment_details.csv"
	ClaimDetailsFile      = "vpei_claim_details.csv"
	RequestedAbsencesFile = "VBI_REQUESTEDABSENCE_SOM.csv"
)

var fileSuffixes = []string{HeaderFile, PaymentDetailsFile, ClaimDetailsFile, RequestedAbsencesFile}

// FileSet is one batch's four extract files.
type FileSet struct {
	Dir       string
	Timestamp string
}

func NewFileSet(dir, timestamp string) FileSet {
	return FileSet{Dir: dir, Timestamp: timestamp}
}

// Path returns the path of the file with the given suffix.
func (fs FileSet) Path(suffix string) string {
	return filepath.Join(fs.Dir, fs.Timestamp+"-"+suffix)
}

// Paths returns the four paths in fixed order.
func (fs FileSet) Paths() []string {
	paths := make([]string, len(fileSuffixes))
	for i, suffix := range fileSuffixes {
		paths[i] = fs.Path(suffix)
	}
	return paths
}

// Time parses the timestamp prefix.
func (fs FileSet) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, fs.Timestamp)
}

// DiscoverResult lists complete file sets and timestamps missing files.
type DiscoverResult struct {
	Complete   []FileSet
	Incomplete []string
}

// Discover lists the file sets in dir ordered by timestamp.
func Discover(dir string) (DiscoverResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return DiscoverResult{}, fmt.Errorf("failed to read inbox %s: %w", dir, err)
	}

	found := make(map[string]map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		timestamp, suffix, ok := splitName(entry.Name())
		if !ok {
			continue
		}
		if found[timestamp] == nil {
			found[timestamp] = make(map[string]bool)
		}
		found[timestamp][suffix] = true
	}

	timestamps := make([]string, 0, len(found))
	for ts := range found {
		timestamps = append(timestamps, ts)
	}
	sort.Strings(timestamps)

	var result DiscoverResult
	for _, ts := range timestamps {
		if len(found[ts]) == len(fileSuffixes) {
			result.Complete = append(result.Complete, NewFileSet(dir, ts))
		} else {
			result.Incomplete = append(result.Incomplete, ts)
		}
	}
	return result, nil
}

// splitName splits "<ts>-<suffix>" for known suffixes and valid timestamps.
func splitName(name string) (timestamp, suffix string, ok bool) {
	if len(name) <= len(TimestampLayout)+1 || name[len(TimestampLayout)] != '-' {
		return "", "", false
	}
	timestamp, suffix = name[:len(TimestampLayout)], name[len(TimestampLayout)+1:]
	if _, err := time.Parse(TimestampLayout, timestamp); err != nil {
		return "", "", false
	}
	for _, known := range fileSuffixes {
		if suffix == known {
			return timestamp, suffix, true
		}
	}
	return "", "", false
}

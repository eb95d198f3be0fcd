package rack

import (
	"errors"
	"fmt"
)

// CheckReport lists inconsistencies between the index and the store root.
// Each slice holds fingerprints, sorted.
type CheckReport struct {
	// Missing entries are in the index but have no storage directory.
	Missing []string
	// Orphans are storage directories without an index entry.
	Orphans []string
	// Staging directories are left over from interrupted stores.
	Staging []string
	// Retired directories are left over from interrupted purges.
	Retired []string
}

// Clean reports whether no inconsistency was found.
func (r *CheckReport) Clean() bool {
	return len(r.Missing)+len(r.Orphans)+len(r.Staging)+len(r.Retired) == 0
}

// Check compares the index against the store root without changing either.
func (s *Service) Check() (*CheckReport, error) {
	cat, err := s.loadCatalog()
	if err != nil {
		return nil, err
	}
	return s.check(cat)
}

func (s *Service) check(cat *Catalog) (*CheckReport, error) {
	scan, err := s.storage.Scan()
	if err != nil {
		return nil, ioError("scanning store", err)
	}

	onDisk := make(map[string]bool, len(scan.Commits))
	report := &CheckReport{Staging: scan.Staging, Retired: scan.Retired}
	for _, fp := range scan.Commits {
		onDisk[fp] = true
		if !cat.Has(fp) {
			report.Orphans = append(report.Orphans, fp)
		}
	}
	for _, fp := range cat.Fingerprints() {
		if !onDisk[fp] {
			report.Missing = append(report.Missing, fp)
		}
	}
	return report, nil
}

// Repair fixes what Check can fix safely and returns the report it acted on.
// A missing entry whose tombstone survived an interrupted purge is
// reinstated; other missing entries are dropped from the index. Stale
// staging directories and tombstones are deleted. Orphan directories are
// left alone since their metadata is lost.
func (s *Service) Repair() (*CheckReport, error) {
	cat, err := s.loadCatalog()
	if err != nil {
		return nil, err
	}
	report, err := s.check(cat)
	if err != nil {
		return nil, err
	}

	var errs []error
	retired := make(map[string]bool, len(report.Retired))
	for _, fp := range report.Retired {
		retired[fp] = true
	}

	changed := false
	for _, fp := range report.Missing {
		if retired[fp] {
			if err := s.storage.Reinstate(fp); err != nil {
				errs = append(errs, fmt.Errorf("reinstating %s: %w", fp, err))
				continue
			}
			delete(retired, fp)
			s.logger.Info("reinstated interrupted purge", "fingerprint", fp)
			continue
		}
		cat.Delete(fp)
		changed = true
		s.logger.Warn("dropped index entry without storage", "fingerprint", fp)
	}
	if changed {
		if err := s.saveCatalog(cat); err != nil {
			return report, err
		}
	}

	for _, fp := range report.Staging {
		if err := s.storage.DiscardStaging(fp); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fp := range report.Retired {
		if !retired[fp] {
			continue
		}
		if err := s.storage.Sweep(fp); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return report, ioError("repairing store", err)
	}
	return report, nil
}

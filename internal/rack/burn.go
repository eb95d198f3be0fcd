package rack

import (
	"errors"
	"fmt"
)

// Burn deletes the listed commits. Each fingerprint is handled on its own:
// unknown fingerprints are reported with ErrNotFound, and an entry whose
// storage is already gone is dropped from the index. Returns the
// fingerprints that were removed and every failure joined together.
func (s *Service) Burn(fps ...string) ([]string, error) {
	cat, err := s.loadCatalog()
	if err != nil {
		return nil, err
	}

	var burned []string
	var errs []error
	for _, fp := range fps {
		commit, err := s.lookup(cat, fp)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if _, err := s.requireStorage(commit); errors.Is(err, ErrStorageMissing) {
			cat.Delete(fp)
			if err := s.saveCatalog(cat); err != nil {
				cat.Put(commit)
				errs = append(errs, err)
				continue
			}
			s.logger.Warn("dropped index entry without storage", "fingerprint", fp)
			burned = append(burned, fp)
			continue
		} else if err != nil {
			errs = append(errs, err)
			continue
		}

		if err := s.purge(cat, commit); err != nil {
			errs = append(errs, err)
			// The entry is gone from the index even if remnants remain.
			if !cat.Has(fp) {
				burned = append(burned, fp)
			}
			continue
		}
		burned = append(burned, fp)
	}
	return burned, errors.Join(errs...)
}

// purge removes a commit's storage and index entry as one logical step.
// The directory is first renamed to a tombstone; if the index cannot be
// saved the tombstone is renamed back. A failure to delete the tombstone
// afterwards is returned: the entry is gone but data remains on disk.
func (s *Service) purge(cat *Catalog, commit *Commit) error {
	fp := commit.Fingerprint
	if _, err := s.commitDir(commit); err != nil {
		return err
	}
	if err := s.storage.Retire(fp); err != nil {
		return s.stagingError(err)
	}

	cat.Delete(fp)
	if err := s.saveCatalog(cat); err != nil {
		cat.Put(commit)
		if rerr := s.storage.Reinstate(fp); rerr != nil {
			s.logger.Error("could not reinstate commit after failed purge", "fingerprint", fp, "error", rerr)
			return errors.Join(err, fmt.Errorf("reinstating %s: %w", fp, rerr))
		}
		return err
	}

	if err := s.storage.Sweep(fp); err != nil {
		s.logger.Error("commit removed from index but data remains", "fingerprint", fp, "error", err)
		return ioError(fmt.Sprintf("commit %s removed from index but its data was not deleted", fp), err)
	}
	s.logger.Info("commit purged", "fingerprint", fp)
	return nil
}

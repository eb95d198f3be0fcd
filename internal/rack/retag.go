package rack

import (
	"errors"
	"fmt"
)

// RetagResult reports the outcome of Retag.
type RetagResult struct {
	Commit *Commit
	// OldFingerprint is the fingerprint before the change.
	OldFingerprint string
	// Renamed is true when the merged tags derived a new fingerprint.
	Renamed bool
}

// Retag merges newTags over a commit's tags. When the merged tags derive a
// different fingerprint the storage directory is renamed and the index entry
// moves to the new key; the timestamp is preserved. Collisions with an
// existing commit fail with ErrStorageConflict and change nothing.
func (s *Service) Retag(fp string, newTags Tags) (*RetagResult, error) {
	cat, err := s.loadCatalog()
	if err != nil {
		return nil, err
	}
	old, err := s.lookup(cat, fp)
	if err != nil {
		return nil, err
	}

	merged := old.Tags.Merge(newTags)
	newFP := Fingerprint(old.Label, merged)

	updated := old.Clone()
	updated.Tags = merged

	if newFP == fp {
		cat.Put(updated)
		if err := s.saveCatalog(cat); err != nil {
			return nil, err
		}
		s.logger.Info("tags updated", "fingerprint", fp, "tags", merged.String())
		return &RetagResult{Commit: updated.Clone(), OldFingerprint: fp}, nil
	}

	if cat.Has(newFP) {
		return nil, fmt.Errorf("%w: tags would derive existing commit %s", ErrStorageConflict, newFP)
	}
	if _, err := s.requireStorage(old); err != nil {
		return nil, err
	}

	if err := s.storage.Rename(fp, newFP); err != nil {
		return nil, s.stagingError(err)
	}

	updated.Fingerprint = newFP
	updated.StoragePath = s.relToRoot(s.storage.CommitDir(newFP))
	// Insert and delete land in the same document write.
	cat.Put(updated)
	cat.Delete(fp)
	if err := s.saveCatalog(cat); err != nil {
		if rerr := s.storage.Rename(newFP, fp); rerr != nil {
			s.logger.Error("could not roll back rename", "from", newFP, "to", fp, "error", rerr)
			return nil, errors.Join(err, fmt.Errorf("renaming %s back to %s: %w", newFP, fp, rerr))
		}
		return nil, err
	}

	s.logger.Info("commit re-identified", "from", fp, "to", newFP, "tags", merged.String())
	return &RetagResult{Commit: updated.Clone(), OldFingerprint: fp, Renamed: true}, nil
}

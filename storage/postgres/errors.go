package postgres

import (
	"github.com/lib/pq"

	"github.com/nimbusid/authgateway/storage"
)

const pgErrUniqueViolation = "23505"

// translate maps a lib/pq error onto a storage sentinel where one applies,
// leaving anything else untouched so callers can still log or wrap it.
func translate(err error) error {
	if err == nil {
		return nil
	}
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return err
	}
	switch {
	case pqErr.Code == pgErrUniqueViolation && pqErr.Constraint == "events_aggregate_version_idx":
		return storage.ErrSequenceConflict
	case pqErr.Code == pgErrUniqueViolation:
		return storage.ErrAlreadyExists
	case pqErr.Code.Name() == "serialization_failure":
		return storage.ErrSequenceConflict
	default:
		return err
	}
}

func isSerializationConflict(err error) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return err == storage.ErrSequenceConflict
	}
	return pqErr.Code.Name() == "serialization_failure" || pqErr.Code == pgErrUniqueViolation && pqErr.Constraint == "events_aggregate_version_idx"
}

// Package objects is the versioned device-state store.
//
// Every device state bucket is an Object keyed by (serial, object_key) with an
// opaque text value and a revision. The revision is the only concurrency
// token: writers pass the revision they last read and the write succeeds only
// if it still matches.
//
//	┌──────────────┐  Put(serial, key, expected=3, v)  ┌─────────────────────┐
//	│   Writer A   │──────────────────────────────────▶│ UPDATE … WHERE      │
//	└──────────────┘                                    │   revision = 3      │──▶ revision 4
//	┌──────────────┐  Put(serial, key, expected=3, v)  │                     │
//	│   Writer B   │──────────────────────────────────▶│ 0 rows affected     │──▶ ErrRevisionConflict
//	└──────────────┘                                    └─────────────────────┘
//
// The compare and the write are one SQL statement, so there is no window
// between reading the revision and writing the value.
//
// Usage:
//
//	repo := objects.NewSQLiteRepository(db)
//	obj, err := repo.Get(ctx, "09AA01AC31170EFK", "shared.09AA01AC31170EFK")
//	if err != nil {
//	    return err
//	}
//	obj, err = repo.Put(ctx, obj.Serial, obj.Key, obj.Revision, newValue, now)
//	if errors.Is(err, objects.ErrRevisionConflict) {
//	    // re-read and reapply
//	}
package objects

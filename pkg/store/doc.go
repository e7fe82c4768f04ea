// Package store is the relational unit of work behind crudkit controllers.
//
// Models are mapped, queried and written with bun. A Backend owns the
// *bun.DB and the dialect (SQLite or PostgreSQL). A Session is one
// unit of work: it tracks the entities it has loaded or been handed, records
// their pending state (added, modified, deleted), and writes every pending
// change in a single transaction on SaveChanges. Query builds a filtered,
// not-yet-executed read over one registered entity type.
//
// Entity types carry bun struct tags and are registered once with Register
// before the backend is attached:
//
//	store.MustRegister[types.Person]()
//
//	backend := store.NewBackend()
//	err := backend.Attach(types.Config{Backend: types.BackendSQLite, DataDir: ".crudkit-db"})
//	defer backend.Detach()
//
//	s := backend.NewSession()
//	p, err := store.From[types.Person](s).Where("id = ?", 1).First(ctx)
//	p.LastName = "Adams"
//	err = s.SaveChanges(ctx)
package store

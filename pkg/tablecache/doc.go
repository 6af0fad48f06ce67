// Package tablecache is an optimistic client-side cache for a remote
// tabular-data service.
//
// Open validates a Config, confirms its tables with the server, and returns
// a Database. A Database caches the schema and records of every configured
// table. Mutations show up in the cache before the server answers and are
// rolled back if the request fails.
//
// Example:
//
//	db, err := tablecache.Open(ctx, types.Config{
//	    BaseURL: "http://127.0.0.1:8080/api",
//	    Tables:  map[string]string{"customers": customersID},
//	})
//	if err != nil {
//	    return err
//	}
//	h := db.Use("customers")
//	defer h.Close()
//	if err := h.Load(ctx); err != nil {
//	    return err
//	}
//	rec, err := h.AddRecord(ctx, types.Fields{"name": "Ada"})
package tablecache

// Package nova is a Go client for nova named queries.
//
// A named query is declared and exposed on the server. The client calls it
// by name with params, and may narrow the returned fields with $body.
//
//	client, _ := nova.New("http://localhost:8080", nova.WithAPIKey(key))
//	users := client.NamedQuery("users").SetParams(map[string]any{"limit": 10})
//	docs, _ := users.Fetch(ctx)
//	n, _ := users.Count(ctx)
//
//	one, _ := users.Clone(map[string]any{"filters": map[string]any{"_id": id}}).FetchOne(ctx)
package nova

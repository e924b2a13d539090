package reconcile

import "net/url"

// Route names the gateway return path the application was re-entered on.
type Route string

const (
	RouteSuccess Route = "success"
	RouteFailed  Route = "failed"
	RouteError   Route = "error"
)

// Outcome is what a gateway return route claims happened. It is a hint: the
// backend record, not the route, decides whether a payment succeeded.
type Outcome struct {
	Route     Route
	Reference string
	Reason    string
}

// OutcomeFromQuery parses the query parameters carried by a return route.
// The success route requires "reference"; the failed and error routes carry
// "reference" and "error" optionally.
func OutcomeFromQuery(route Route, query url.Values) Outcome {
	return Outcome{
		Route:     route,
		Reference: query.Get("reference"),
		Reason:    query.Get("error"),
	}
}

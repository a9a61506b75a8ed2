package domain

// RouteLogin is the navigation target used by forced and remote logouts.
const RouteLogin = "login"

// Route is a navigation request handed to the UI layer.
type Route struct {
	Name  string
	Query map[string]string
}

// LoginRoute builds the login route. expired marks a timeout rather than an
// explicit logout.
func LoginRoute(expired bool) Route {
	r := Route{Name: RouteLogin}
	if expired {
		r.Query = map[string]string{"expired": "true"}
	}
	return r
}

// Expired reports whether the route carries the expired indicator.
func (r Route) Expired() bool {
	return r.Query["expired"] == "true"
}

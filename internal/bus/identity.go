package bus

import "github.com/gofiber/fiber/v2"

// Identity is the resolved scoping context for one HTTP request, built by
// running the configured lookup hooks (§4.6). A missing lookup (nil hook)
// means "no scoping by this dimension" and the corresponding field stays
// at its zero value.
type Identity struct {
	UserID   string
	GroupIDs []string
	ClientID string
	SiteID   string
}

// UserIDLookup resolves the requesting user's ID from the request, or ""
// if unauthenticated/not applicable.
type UserIDLookup func(c *fiber.Ctx) string

// GroupIDsLookup resolves the requesting user's group memberships.
type GroupIDsLookup func(c *fiber.Ctx) []string

// SiteIDLookup resolves the tenant the request belongs to.
type SiteIDLookup func(c *fiber.Ctx) string

// IdentityHooks is the closed set of resolver functions injected at Engine
// construction (§4.6). Each is independently optional.
type IdentityHooks struct {
	UserID   UserIDLookup
	GroupIDs GroupIDsLookup
	SiteID   SiteIDLookup
}

// Resolve runs the configured hooks against c, building an Identity.
// ClientID always comes from the path, not a hook, so it is filled in by
// the caller (the HTTP handler) rather than here.
func (h IdentityHooks) Resolve(c *fiber.Ctx) Identity {
	var id Identity
	if h.UserID != nil {
		id.UserID = h.UserID(c)
	}
	if h.GroupIDs != nil {
		id.GroupIDs = h.GroupIDs(c)
	}
	if h.SiteID != nil {
		id.SiteID = h.SiteID(c)
	}
	return id
}

package link

import "time"

// ShortLink maps an opaque short code to a destination URL owned by a partner.
// The destination carries the owner's partner code as a query parameter so the
// landing page can attribute the visit.
type ShortLink struct {
	ID             string
	ShortCode      string
	DestinationURL string
	PartnerID      string
	CreatedAt      time.Time
}

// Resolution is the read-only answer of the resolver: who gets credit and
// where the visitor goes.
type Resolution struct {
	OwnerPartnerID string
	DestinationURL string
}

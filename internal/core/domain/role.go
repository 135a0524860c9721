package domain

const (
	RoleCustomer        = "customer"
	RoleDeliveryPartner = "delivery_partner"
)

// Principal is the authenticated caller, as asserted by the identity
// provider's token.
type Principal struct {
	Subject string
	Role    string
}

// CanView reports whether p may watch the given order.
func (p Principal) CanView(o *Order) bool {
	switch p.Role {
	case RoleDeliveryPartner:
		return o.DeliveryPartnerID == "" || o.DeliveryPartnerID == p.Subject
	case RoleCustomer:
		return o.UserID == p.Subject
	}
	return false
}

package session

import "storefront-live/internal/model"

type Navigator interface {
	Navigate(dest model.Destination)
}

type NavigatorFunc func(dest model.Destination)

func (f NavigatorFunc) Navigate(dest model.Destination) { f(dest) }

type nopNavigator struct{}

func (nopNavigator) Navigate(model.Destination) {}

// Dashboard picks where an identity lands after login.
func Dashboard(identity *model.Identity) model.Destination {
	if identity == nil {
		return model.DestLogin
	}
	switch identity.Role {
	case model.RoleAdmin:
		return model.DestAdminDashboard
	case model.RoleSeller:
		if !identity.IsVerified {
			return model.DestVerificationPending
		}
		return model.DestSellerDashboard
	default:
		return model.DestUserDashboard
	}
}

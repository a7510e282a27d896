package store

import (
	"errors"

	"storefront-live/internal/model"
)

type SeedAccount struct {
	Registration
	Verified bool
}

// DevSeeds are the accounts the devserver starts with. All use the password
// "password".
func DevSeeds() []SeedAccount {
	return []SeedAccount{
		{Registration: Registration{Username: "admin", Email: "admin@example.com", Password: "password", Role: model.RoleAdmin}},
		{Registration: Registration{Username: "seller", Email: "seller@example.com", Password: "password", Role: model.RoleSeller, BusinessName: "Acme Goods"}, Verified: true},
		{Registration: Registration{Username: "pending", Email: "pending@example.com", Password: "password", Role: model.RoleSeller, BusinessName: "Pending Ltd"}},
		{Registration: Registration{Username: "shopper", Email: "shopper@example.com", Password: "password", Role: model.RoleUser}},
	}
}

// Seed creates the given accounts, skipping emails that already exist.
func (s *Store) Seed(seeds []SeedAccount) error {
	for _, seed := range seeds {
		acc, err := s.CreateAccount(seed.Registration)
		if errors.Is(err, ErrUserExists) {
			continue
		}
		if err != nil {
			return err
		}
		if seed.Verified && acc.Role == model.RoleSeller {
			if _, err := s.VerifySeller(acc.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

package cache

import (
	"context"
	"fmt"

	"github.com/dukaanware/dukasync/internal/models"
	"github.com/dukaanware/dukasync/internal/store"
)

// typed narrows a []models.Record to its concrete element type.
func typed[T models.Record](recs []models.Record, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, ok := rec.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected record type %T", rec)
		}
		out = append(out, v)
	}
	return out, nil
}

func one[T models.Record](rec models.Record, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	v, ok := rec.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected record type %T", rec)
	}
	return v, nil
}

func (s *Service) AddProduct(ctx context.Context, p *models.Product) (*models.Product, error) {
	return one[*models.Product](s.Add(ctx, p))
}

func (s *Service) UpdateProduct(ctx context.Context, id string, fields map[string]interface{}) (*models.Product, error) {
	return one[*models.Product](s.Update(ctx, models.EntityProduct, id, fields))
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	return s.Delete(ctx, models.EntityProduct, id)
}

func (s *Service) Products() ([]*models.Product, error) {
	return typed[*models.Product](s.List(models.EntityProduct))
}

func (s *Service) FetchProducts(ctx context.Context) ([]*models.Product, error) {
	return typed[*models.Product](s.Fetch(ctx, models.EntityProduct))
}

func (s *Service) AddCustomer(ctx context.Context, c *models.Customer) (*models.Customer, error) {
	return one[*models.Customer](s.Add(ctx, c))
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, fields map[string]interface{}) (*models.Customer, error) {
	return one[*models.Customer](s.Update(ctx, models.EntityCustomer, id, fields))
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	return s.Delete(ctx, models.EntityCustomer, id)
}

func (s *Service) Customers() ([]*models.Customer, error) {
	return typed[*models.Customer](s.List(models.EntityCustomer))
}

func (s *Service) FetchCustomers(ctx context.Context) ([]*models.Customer, error) {
	return typed[*models.Customer](s.Fetch(ctx, models.EntityCustomer))
}

func (s *Service) AddBill(ctx context.Context, b *models.Bill) (*models.Bill, error) {
	return one[*models.Bill](s.Add(ctx, b))
}

func (s *Service) UpdateBill(ctx context.Context, id string, fields map[string]interface{}) (*models.Bill, error) {
	return one[*models.Bill](s.Update(ctx, models.EntityBill, id, fields))
}

func (s *Service) DeleteBill(ctx context.Context, id string) error {
	return s.Delete(ctx, models.EntityBill, id)
}

func (s *Service) Bills() ([]*models.Bill, error) {
	return typed[*models.Bill](s.List(models.EntityBill))
}

func (s *Service) FetchBills(ctx context.Context) ([]*models.Bill, error) {
	return typed[*models.Bill](s.Fetch(ctx, models.EntityBill))
}

func (s *Service) AddLedgerEntry(ctx context.Context, l *models.LedgerEntry) (*models.LedgerEntry, error) {
	return one[*models.LedgerEntry](s.Add(ctx, l))
}

func (s *Service) UpdateLedgerEntry(ctx context.Context, id string, fields map[string]interface{}) (*models.LedgerEntry, error) {
	return one[*models.LedgerEntry](s.Update(ctx, models.EntityLedgerEntry, id, fields))
}

func (s *Service) DeleteLedgerEntry(ctx context.Context, id string) error {
	return s.Delete(ctx, models.EntityLedgerEntry, id)
}

func (s *Service) LedgerEntries() ([]*models.LedgerEntry, error) {
	return typed[*models.LedgerEntry](s.List(models.EntityLedgerEntry))
}

func (s *Service) FetchLedgerEntries(ctx context.Context) ([]*models.LedgerEntry, error) {
	return typed[*models.LedgerEntry](s.Fetch(ctx, models.EntityLedgerEntry))
}

func (s *Service) AddExpense(ctx context.Context, e *models.Expense) (*models.Expense, error) {
	return one[*models.Expense](s.Add(ctx, e))
}

func (s *Service) UpdateExpense(ctx context.Context, id string, fields map[string]interface{}) (*models.Expense, error) {
	return one[*models.Expense](s.Update(ctx, models.EntityExpense, id, fields))
}

func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	return s.Delete(ctx, models.EntityExpense, id)
}

func (s *Service) Expenses() ([]*models.Expense, error) {
	return typed[*models.Expense](s.List(models.EntityExpense))
}

func (s *Service) FetchExpenses(ctx context.Context) ([]*models.Expense, error) {
	return typed[*models.Expense](s.Fetch(ctx, models.EntityExpense))
}

func (s *Service) AddParty(ctx context.Context, p *models.Party) (*models.Party, error) {
	return one[*models.Party](s.Add(ctx, p))
}

func (s *Service) UpdateParty(ctx context.Context, id string, fields map[string]interface{}) (*models.Party, error) {
	return one[*models.Party](s.Update(ctx, models.EntityParty, id, fields))
}

func (s *Service) DeleteParty(ctx context.Context, id string) error {
	return s.Delete(ctx, models.EntityParty, id)
}

func (s *Service) Parties() ([]*models.Party, error) {
	return typed[*models.Party](s.List(models.EntityParty))
}

func (s *Service) FetchParties(ctx context.Context) ([]*models.Party, error) {
	return typed[*models.Party](s.Fetch(ctx, models.EntityParty))
}

// Profile returns the cached store profile, or nil when none exists yet.
// The profile lives as a one-element collection.
func (s *Service) Profile() (*models.StoreProfile, error) {
	profiles, err := typed[*models.StoreProfile](s.List(models.EntityStoreProfile))
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	return profiles[0], nil
}

// SaveProfile creates the profile on first call and updates it afterwards.
func (s *Service) SaveProfile(ctx context.Context, p *models.StoreProfile) (*models.StoreProfile, error) {
	existing, err := s.Profile()
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return one[*models.StoreProfile](s.Add(ctx, p))
	}

	fields, err := fieldMap(p)
	if err != nil {
		return nil, err
	}
	return one[*models.StoreProfile](s.Update(ctx, models.EntityStoreProfile, existing.ID, fields))
}

// FetchProfile refreshes the profile from the API.
func (s *Service) FetchProfile(ctx context.Context) (*models.StoreProfile, error) {
	profiles, err := typed[*models.StoreProfile](s.Fetch(ctx, models.EntityStoreProfile))
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	return profiles[0], nil
}

func (s *Service) OnboardingDone() (bool, error) {
	return s.store.Flag(store.FlagOnboardingDone)
}

func (s *Service) SetOnboardingDone(v bool) error {
	return s.store.SetFlag(store.FlagOnboardingDone, v)
}

func (s *Service) LoggedIn() (bool, error) {
	return s.store.Flag(store.FlagLoggedIn)
}

func (s *Service) SetLoggedIn(v bool) error {
	return s.store.SetFlag(store.FlagLoggedIn, v)
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"

	"github.com/amingione/fas-checkout/internal/domain"
)

// ValidateAddress normalizes an address and checks its structural
// completeness. It consults no postal directory; the commerce engine and
// carriers do their own verification downstream.
func ValidateAddress(address domain.Address) (domain.Address, error) {
	address = address.Normalized()

	var missing []string
	if address.Line1 == "" {
		missing = append(missing, "line1")
	}
	if address.City == "" {
		missing = append(missing, "city")
	}
	if address.PostalCode == "" {
		missing = append(missing, "postal_code")
	}
	if address.Country == "" {
		missing = append(missing, "country")
	}
	if address.Country == "US" && address.Province == "" {
		missing = append(missing, "province")
	}

	if len(missing) > 0 {
		return domain.Address{}, apperrors.InvalidInput("address is missing: " + strings.Join(missing, ", "))
	}
	return address, nil
}

// AddressSyncService pushes the shopper's address onto the commerce engine's
// cart so engine-side tax and shipping calculations see the same destination
// the carrier quoted against.
type AddressSyncService struct {
	commerce CommerceGateway
	logger   *slog.Logger
}

// NewAddressSyncService creates an address sync service.
func NewAddressSyncService(commerce CommerceGateway, logger *slog.Logger) *AddressSyncService {
	return &AddressSyncService{
		commerce: commerce,
		logger:   logger,
	}
}

// Sync validates the address and writes it onto the cart. The write is a full
// replacement, so repeating it is harmless.
func (s *AddressSyncService) Sync(ctx context.Context, cartID string, address domain.Address, email string) (*domain.Cart, error) {
	if cartID == "" {
		return nil, apperrors.InvalidInput("cart id is required")
	}

	address, err := ValidateAddress(address)
	if err != nil {
		return nil, err
	}

	cart, err := s.commerce.UpdateAddress(ctx, cartID, address, email)
	if err != nil {
		return nil, fmt.Errorf("sync cart address: %w", err)
	}

	s.logger.InfoContext(ctx, "cart address synced",
		slog.String("cart_id", cartID),
		slog.String("country", address.Country),
		slog.String("postal_code", address.PostalCode),
	)

	return cart, nil
}

package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/crimecity-live/internal/types"
)

const (
	InventoryPath = "/market/api/inventory-items/"

	// SuggestedMarkup is applied to an item's sell price to prefill a listing.
	SuggestedMarkup = 1.5

	defaultTimeout = 10 * time.Second
)

var (
	ErrNoItem        = errors.New("no item selected")
	ErrBadQuantity   = errors.New("quantity must be at least 1")
	ErrBadPrice      = errors.New("price must be at least $1")
	ErrNotEnoughHeld = errors.New("not enough items held")
)

// StatusError is returned for a non-2xx inventory response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inventory request failed: %d %s", e.Code, http.StatusText(e.Code))
}

type Client struct {
	base string
	http *http.Client
	log  *zap.Logger
}

// NewClient targets the game server at base, e.g. "http://localhost:8000".
// A nil hc gets a client with a 10s timeout.
func NewClient(base string, hc *http.Client, log *zap.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: hc,
		log:  log.Named("market"),
	}
}

// FetchInventory returns the player's sellable items.
func (c *Client) FetchInventory(ctx context.Context) ([]types.InventoryItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+InventoryPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch inventory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var body types.InventoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	c.log.Debug("inventory fetched", zap.Int("items", len(body.Items)))
	if body.Items == nil {
		body.Items = []types.InventoryItem{}
	}
	return body.Items, nil
}

func SuggestedPrice(it types.InventoryItem) float64 {
	return float64(it.SellPrice) * SuggestedMarkup
}

// ClampQuantity pulls q into [1, it.Quantity].
func ClampQuantity(it types.InventoryItem, q int) int {
	if q < 1 {
		return 1
	}
	if q > it.Quantity {
		return it.Quantity
	}
	return q
}

// Find returns the item with id, if present.
func Find(items []types.InventoryItem, id int) (types.InventoryItem, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return types.InventoryItem{}, false
}

// ValidateListing checks a sell form before it is submitted.
func ValidateListing(items []types.InventoryItem, itemID, quantity, price int) error {
	if itemID <= 0 {
		return ErrNoItem
	}
	if quantity < 1 {
		return ErrBadQuantity
	}
	if price < 1 {
		return ErrBadPrice
	}
	if it, ok := Find(items, itemID); ok && quantity > it.Quantity {
		return fmt.Errorf("%w: you only have %d of this item", ErrNotEnoughHeld, it.Quantity)
	}
	return nil
}

package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"pricesync/internal/model"
)

// Quote requests a quote for swapping amount of the instrument in the given
// direction.
func (c *Client) Quote(ctx context.Context, instrumentID string, side model.Side, amount float64) (model.Quote, error) {
	query := url.Values{}
	query.Set("instrument", instrumentID)
	query.Set("side", string(side))
	query.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))

	var quote model.Quote
	if err := c.get(ctx, "/quote", query, &quote); err != nil {
		return model.Quote{}, fmt.Errorf("get quote %s: %w", instrumentID, err)
	}
	return quote, nil
}

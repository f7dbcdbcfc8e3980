package api

import (
	"context"
	"fmt"
	"net/url"

	"pricesync/internal/model"
)

// HistoryResponse is the wire shape of the history endpoint.
type HistoryResponse struct {
	InstrumentID string             `json:"instrumentId"`
	Window       string             `json:"window"`
	Points       []model.PricePoint `json:"points"`
}

// History fetches the historical price series for one (instrument, window)
// pair. Concurrent calls for the same pair share one underlying request.
func (c *Client) History(ctx context.Context, instrumentID string, window model.Window) ([]model.PricePoint, error) {
	key := instrumentID + "|" + string(window)

	v, err, _ := c.historyGroup.Do(key, func() (any, error) {
		query := url.Values{}
		query.Set("window", string(window))

		var resp HistoryResponse
		path := "/instruments/" + url.PathEscape(instrumentID) + "/history"
		if err := c.get(ctx, path, query, &resp); err != nil {
			return nil, fmt.Errorf("get history %s: %w", instrumentID, err)
		}
		return resp.Points, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]model.PricePoint), nil
}

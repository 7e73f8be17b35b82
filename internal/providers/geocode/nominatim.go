package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const nominatimBase = "https://nominatim.openstreetmap.org/reverse"

type Nominatim struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
}

func NewNominatim(userAgent string) *Nominatim {
	return &Nominatim{
		BaseURL:    nominatimBase,
		UserAgent:  userAgent,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
}

func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lon))
	q.Set("format", "jsonv2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", n.UserAgent)

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("geocode: %d: %s", resp.StatusCode, body)
	}

	var out nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.DisplayName == "" {
		return "", fmt.Errorf("geocode: no address for %f,%f", lat, lon)
	}
	return out.DisplayName, nil
}

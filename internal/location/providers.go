package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// StaticProvider reports a fixed coordinate, or nothing when unset.
type StaticProvider struct {
	coord *Coordinate
}

// NewStaticProvider returns a provider for (lat, lng). Out-of-range values
// produce a provider with no fix.
func NewStaticProvider(lat, lng float64) *StaticProvider {
	c := Coordinate{Latitude: lat, Longitude: lng}
	if !valid(c) {
		return &StaticProvider{}
	}
	return &StaticProvider{coord: &c}
}

func (p *StaticProvider) LastKnown(context.Context) (*Coordinate, error) {
	return p.coord, nil
}

func (p *StaticProvider) Current(context.Context, Accuracy, time.Duration) (*Coordinate, error) {
	return p.coord, nil
}

// IPProvider derives a coarse fix from an IP geolocation endpoint returning
// JSON with "lat" and "lon" fields (ip-api.com style).
type IPProvider struct {
	url    string
	client *http.Client
}

func NewIPProvider(endpoint string, client *http.Client) *IPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &IPProvider{url: endpoint, client: client}
}

// LastKnown always misses; an IP lookup is a network request.
func (p *IPProvider) LastKnown(context.Context) (*Coordinate, error) {
	return nil, nil
}

func (p *IPProvider) Current(ctx context.Context, _ Accuracy, timeout time.Duration) (*Coordinate, error) {
	if p.url == "" {
		return nil, nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body struct {
		Status  string   `json:"status"`
		Message string   `json:"message"`
		Lat     *float64 `json:"lat"`
		Lon     *float64 `json:"lon"`
	}
	if err := getJSON(ctx, p.client, p.url, "", &body); err != nil {
		return nil, fmt.Errorf("ip lookup: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return nil, fmt.Errorf("ip lookup: %s %s", body.Status, body.Message)
	}
	if body.Lat == nil || body.Lon == nil {
		return nil, nil
	}
	return &Coordinate{Latitude: *body.Lat, Longitude: *body.Lon}, nil
}

// Nominatim reverse-geocodes through the OpenStreetMap Nominatim API.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

func NewNominatim(baseURL, userAgent string, client *http.Client) *Nominatim {
	if client == nil {
		client = http.DefaultClient
	}
	return &Nominatim{baseURL: baseURL, userAgent: userAgent, client: client}
}

type nominatimResponse struct {
	Error   string `json:"error"`
	Address *struct {
		HouseNumber   string `json:"house_number"`
		Road          string `json:"road"`
		Suburb        string `json:"suburb"`
		Neighbourhood string `json:"neighbourhood"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		State         string `json:"state"`
		Country       string `json:"country"`
	} `json:"address"`
}

// Reverse returns nil, nil when Nominatim has no placemark for c.
func (n *Nominatim) Reverse(ctx context.Context, c Coordinate) (*Address, error) {
	u, err := url.Parse(n.baseURL)
	if err != nil {
		return nil, fmt.Errorf("nominatim url: %w", err)
	}
	u = u.JoinPath("reverse")
	q := u.Query()
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(c.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.Longitude, 'f', -1, 64))
	q.Set("addressdetails", "1")
	u.RawQuery = q.Encode()

	var body nominatimResponse
	if err := getJSON(ctx, n.client, u.String(), n.userAgent, &body); err != nil {
		return nil, fmt.Errorf("reverse geocode: %w", err)
	}
	if body.Error != "" || body.Address == nil {
		return nil, nil
	}

	a := body.Address
	return &Address{
		SubThoroughfare: a.HouseNumber,
		Thoroughfare:    a.Road,
		SubLocality:     a.Neighbourhood,
		Locality:        firstNonEmpty(a.Suburb, a.City, a.Town, a.Village),
		AdminArea:       a.State,
		CountryName:     a.Country,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint, userAgent string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var errNoProvider = errors.New("no location provider configured")

// Chain tries each provider in order and returns the first fix.
type Chain []Provider

func (c Chain) LastKnown(ctx context.Context) (*Coordinate, error) {
	for _, p := range c {
		if coord, err := p.LastKnown(ctx); err == nil && coord != nil {
			return coord, nil
		}
	}
	return nil, nil
}

func (c Chain) Current(ctx context.Context, accuracy Accuracy, timeout time.Duration) (*Coordinate, error) {
	if len(c) == 0 {
		return nil, errNoProvider
	}
	var lastErr error
	for _, p := range c {
		coord, err := p.Current(ctx, accuracy, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		if coord != nil {
			return coord, nil
		}
	}
	return nil, lastErr
}

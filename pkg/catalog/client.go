// Package catalog looks up products against an OpenFoodFacts-compatible
// catalog and resolves OCR-derived text into ranked product matches.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultBaseURL is the public OpenFoodFacts instance.
const DefaultBaseURL = "https://world.openfoodfacts.org"

const searchPageSize = 20

// searchFields keeps search responses small; we only need what is shown to
// the caller.
const searchFields = "code,product_name,brands,image_url,url"

// Product is a catalog entry.
type Product struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Brands   string `json:"brands,omitempty"`
	ImageURL string `json:"image,omitempty"`
	Link     string `json:"link,omitempty"`
}

// Client talks to an OpenFoodFacts-compatible HTTP API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

// NewClient builds a client from the environment. OFF_BASE_URL overrides the
// public instance, which is what the tests and self-hosted deployments use.
func NewClient() *Client {
	base := os.Getenv("OFF_BASE_URL")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(base, "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		UserAgent: "foodlens/1.0 (https://github.com/foodlens/foodlens)",
	}
}

type productResponse struct {
	Status  int        `json:"status"`
	Product rawProduct `json:"product"`
}

type searchResponse struct {
	Products []rawProduct `json:"products"`
}

type rawProduct struct {
	Code        string `json:"code"`
	ProductName string `json:"product_name"`
	Brands      string `json:"brands"`
	ImageURL    string `json:"image_url"`
	URL         string `json:"url"`
}

// Lookup fetches a product by barcode. It returns (nil, nil) when the
// catalog has no entry for the code.
func (c *Client) Lookup(ctx context.Context, code string) (*Product, error) {
	endpoint := fmt.Sprintf("%s/api/v2/product/%s.json", c.BaseURL, url.PathEscape(code))

	var body productResponse
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		return nil, fmt.Errorf("barcode lookup %s: %w", code, err)
	}
	if body.Status != 1 {
		return nil, nil
	}
	p := c.toProduct(body.Product)
	if p.Code == "" {
		p.Code = code
	}
	return &p, nil
}

// Search runs a free-text product search and returns up to one page of
// results.
func (c *Client) Search(ctx context.Context, query string) ([]Product, error) {
	params := url.Values{}
	params.Set("search_terms", query)
	params.Set("search_simple", "1")
	params.Set("action", "process")
	params.Set("json", "1")
	params.Set("page_size", fmt.Sprintf("%d", searchPageSize))
	params.Set("fields", searchFields)
	endpoint := fmt.Sprintf("%s/cgi/search.pl?%s", c.BaseURL, params.Encode())

	var body searchResponse
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	products := make([]Product, 0, len(body.Products))
	for _, raw := range body.Products {
		if raw.Code == "" && raw.ProductName == "" {
			continue
		}
		products = append(products, c.toProduct(raw))
	}
	return products, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("unable to reach catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("catalog returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unable to decode catalog response: %w", err)
	}
	return nil
}

func (c *Client) toProduct(raw rawProduct) Product {
	link := raw.URL
	if link == "" && raw.Code != "" {
		link = fmt.Sprintf("%s/product/%s", c.BaseURL, raw.Code)
	}
	return Product{
		Code:     raw.Code,
		Name:     raw.ProductName,
		Brands:   raw.Brands,
		ImageURL: raw.ImageURL,
		Link:     link,
	}
}

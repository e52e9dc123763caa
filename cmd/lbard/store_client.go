package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	lbard "github.com/samsamfire/lbard"
	"github.com/samsamfire/lbard/internal/fifo"
)

// bodyCacheCapacity bounds the single-slot journal body cache (spec §5:
// "the single-slot body cache ... is overwritten on each
// prime_body_cache"). Journal bodies are short-lived mesh messages, not
// arbitrary file transfers, so a generous fixed capacity is simpler than a
// resizing buffer.
const bodyCacheCapacity = 1 << 20

// httpStoreClient implements lbard.StoreAdapter against a bundle store
// reached over HTTP, authenticated with a bearer-token credential (spec
// §4.6, §6). Grounded on the teacher's gateway HTTP client/server pair:
// plain net/http, no router or client library.
type httpStoreClient struct {
	endpoint   string
	credential string
	client     *http.Client
	bodyCache  *fifo.Fifo
}

func newHTTPStoreClient(endpoint, credential string) *httpStoreClient {
	return &httpStoreClient{
		endpoint:   endpoint,
		credential: credential,
		client:     &http.Client{},
		bodyCache:  fifo.NewFifo(bodyCacheCapacity + 1),
	}
}

type inventoryResponse struct {
	Bundles []struct {
		BID             string `json:"bid"`
		Version         uint64 `json:"version"`
		RecipientPrefix string `json:"recipient_prefix"`
		ManifestBytes   []byte `json:"manifest_bytes"`
		BodyBytes       []byte `json:"body_bytes"`
		IsJournal       bool   `json:"is_journal"`
	} `json:"bundles"`
	NextToken string `json:"next_token"`
}

func (c *httpStoreClient) RefreshInventory(ctx context.Context, self lbard.SIDPrefix, token string) ([]lbard.Bundle, string, error) {
	reqURL := fmt.Sprintf("%s/inventory?self=%x&token=%s", c.endpoint, self[:], url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, token, err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, token, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, token, fmt.Errorf("lbard: inventory refresh: unexpected status %s", resp.Status)
	}

	var parsed inventoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, token, fmt.Errorf("lbard: decode inventory response: %w", err)
	}

	bundles := make([]lbard.Bundle, 0, len(parsed.Bundles))
	for _, b := range parsed.Bundles {
		raw, err := hex.DecodeString(b.BID)
		if err != nil {
			continue
		}
		var bid lbard.BundleID
		copy(bid[:], raw)
		bundles = append(bundles, lbard.Bundle{
			BID:           bid,
			Version:       b.Version,
			ManifestBytes: b.ManifestBytes,
			BodyBytes:     b.BodyBytes,
			IsJournal:     b.IsJournal,
		})
	}
	return bundles, parsed.NextToken, nil
}

func (c *httpStoreClient) PrimeBodyCache(ctx context.Context, bundle lbard.Bundle) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/bundles/%x/body", c.endpoint, bundle.BID[:])
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lbard: prime body cache: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(body) > bodyCacheCapacity {
		return nil, fmt.Errorf("lbard: journal body of %d bytes exceeds cache capacity %d", len(body), bodyCacheCapacity)
	}

	// Single-slot cache: the previous contents are discarded as soon as a
	// new fetch lands (spec §5).
	c.bodyCache.Reset()
	c.bodyCache.Write(body)
	out := make([]byte, c.bodyCache.GetOccupied())
	c.bodyCache.Read(out)
	return out, nil
}

func (c *httpStoreClient) CommitBundle(ctx context.Context, manifestBytes, bodyBytes []byte) error {
	payload, err := json.Marshal(struct {
		ManifestBytes []byte `json:"manifest_bytes"`
		BodyBytes     []byte `json:"body_bytes"`
	}{manifestBytes, bodyBytes})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/bundles", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("lbard: commit bundle: unexpected status %s", resp.Status)
	}
	return nil
}

func (c *httpStoreClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.credential)
}

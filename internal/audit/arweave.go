package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// Default endpoints for the public Arweave anchoring index.
const (
	DefaultArweaveGraphQLURL = "https://arweave.net/graphql"
	DefaultArweaveGatewayURL = "https://arweave.net"
)

// RootFetcher retrieves a live root for a tree size from the log service.
// Used as the fallback when a size has no resolvable anchor.
type RootFetcher func(ctx context.Context, size int64) (*Root, error)

// Resolver resolves externally anchored tree roots from the Arweave index.
// Failures are soft: sizes that cannot be resolved are logged and omitted,
// never propagated, so one unobtainable root does not abort a verification
// batch.
type Resolver struct {
	httpClient *http.Client
	graphqlURL string
	gatewayURL string
	logger     *slog.Logger
}

// NewResolver creates a resolver against the given index endpoints. Empty
// URLs fall back to the public Arweave defaults; a nil client falls back to
// http.DefaultClient.
func NewResolver(httpClient *http.Client, graphqlURL, gatewayURL string, logger *slog.Logger) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if graphqlURL == "" {
		graphqlURL = DefaultArweaveGraphQLURL
	}
	if gatewayURL == "" {
		gatewayURL = DefaultArweaveGatewayURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		httpClient: httpClient,
		graphqlURL: graphqlURL,
		gatewayURL: gatewayURL,
		logger:     logger,
	}
}

// arweaveQueryResponse is the shape of the GraphQL transaction lookup.
type arweaveQueryResponse struct {
	Data struct {
		Transactions struct {
			Edges []struct {
				Node struct {
					ID   string `json:"id"`
					Tags []struct {
						Name  string `json:"name"`
						Value string `json:"value"`
					} `json:"tags"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"transactions"`
	} `json:"data"`
}

// PublishedRoots returns a mapping from tree size to resolved root for the
// requested sizes. Anchored transactions are fetched from the index; sizes
// without a usable anchor fall back to the live fetch callback. Sizes that
// cannot be resolved either way are absent from the result.
func (r *Resolver) PublishedRoots(ctx context.Context, treeName string, sizes []int64, fetch RootFetcher) PublishedRoots {
	roots := make(PublishedRoots, len(sizes))
	if len(sizes) == 0 {
		return roots
	}

	anchored, err := r.queryAnchors(ctx, treeName, sizes)
	if err != nil {
		r.logger.WarnContext(ctx, "arweave index query failed",
			slog.String("tree_name", treeName),
			slog.String("error", err.Error()))
	}

	for size, txID := range anchored {
		root, err := r.fetchTransaction(ctx, txID)
		if err != nil {
			r.logger.WarnContext(ctx, "arweave transaction fetch failed",
				slog.String("transaction_id", txID),
				slog.Int64("tree_size", size),
				slog.String("error", err.Error()))
			continue
		}
		root.TransactionID = txID
		roots[size] = root
	}

	// Live fallback for every size the anchor lookup did not cover.
	for _, size := range sizes {
		if _, ok := roots[size]; ok {
			continue
		}
		if fetch == nil {
			continue
		}
		root, err := fetch(ctx, size)
		if err != nil || root == nil {
			r.logger.WarnContext(ctx, "live root fallback failed",
				slog.String("tree_name", treeName),
				slog.Int64("tree_size", size),
				slog.Any("error", err))
			continue
		}
		roots[size] = root
	}
	return roots
}

// queryAnchors looks up anchored transactions tagged with the tree name and
// any of the requested sizes, returning tree size -> transaction id.
func (r *Resolver) queryAnchors(ctx context.Context, treeName string, sizes []int64) (map[int64]string, error) {
	sizeValues := make([]string, 0, len(sizes))
	for _, s := range sizes {
		sizeValues = append(sizeValues, strconv.Quote(strconv.FormatInt(s, 10)))
	}
	query := fmt.Sprintf(`{
  transactions(tags: [
    {name: "tree_size", values: [%s]},
    {name: "tree_name", values: [%s]}
  ]) {
    edges { node { id tags { name value } } }
  }
}`, strings.Join(sizeValues, ", "), strconv.Quote(treeName))

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index returned status %d", resp.StatusCode)
	}

	var parsed arweaveQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	anchored := make(map[int64]string)
	for _, edge := range parsed.Data.Transactions.Edges {
		for _, tag := range edge.Node.Tags {
			if tag.Name != "tree_size" {
				continue
			}
			size, err := strconv.ParseInt(tag.Value, 10, 64)
			if err != nil {
				r.logger.WarnContext(ctx, "skipping anchor with malformed tree_size tag",
					slog.String("transaction_id", edge.Node.ID),
					slog.String("tree_size", tag.Value))
				continue
			}
			anchored[size] = edge.Node.ID
		}
	}
	return anchored, nil
}

// fetchTransaction downloads the raw content of an anchored transaction and
// parses it as a Root record.
func (r *Resolver) fetchTransaction(ctx context.Context, txID string) (*Root, error) {
	url := fmt.Sprintf("%s/%s/", strings.TrimRight(r.gatewayURL, "/"), txID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var root Root
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse anchored root: %w", err)
	}
	return &root, nil
}

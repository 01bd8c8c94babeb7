package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeArweave serves a GraphQL anchor index and a gateway for a fixed set of
// anchored roots keyed by transaction id.
func fakeArweave(t *testing.T, anchors map[int64]string, roots map[string]*Root) (*httptest.Server, *httptest.Server) {
	t.Helper()

	graphql := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("index query method = %s, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("index query body is not JSON: %v", err)
		}
		if !strings.Contains(payload.Query, "tree_name") || !strings.Contains(payload.Query, "tree_size") {
			t.Errorf("index query missing tag filters: %s", payload.Query)
		}

		var edges []map[string]any
		for size, txID := range anchors {
			edges = append(edges, map[string]any{
				"node": map[string]any{
					"id": txID,
					"tags": []map[string]string{
						{"name": "tree_size", "value": fmt.Sprintf("%d", size)},
						{"name": "tree_name", "value": "test-tree"},
					},
				},
			})
		}
		resp := map[string]any{
			"data": map[string]any{
				"transactions": map[string]any{"edges": edges},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(graphql.Close)

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txID := strings.Trim(r.URL.Path, "/")
		root, ok := roots[txID]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(root)
	}))
	t.Cleanup(gateway.Close)

	return graphql, gateway
}

func TestResolver_PublishedRoots(t *testing.T) {
	anchors := map[int64]string{5: "tx-5", 9: "tx-9"}
	anchored := map[string]*Root{
		"tx-5": {TreeName: "test-tree", Size: 5, RootHash: "aa"},
		"tx-9": {TreeName: "test-tree", Size: 9, RootHash: "bb"},
	}
	graphql, gateway := fakeArweave(t, anchors, anchored)

	resolver := NewResolver(nil, graphql.URL, gateway.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var fetched []int64
	fetch := func(ctx context.Context, size int64) (*Root, error) {
		fetched = append(fetched, size)
		return &Root{TreeName: "test-tree", Size: size, RootHash: "cc"}, nil
	}

	roots := resolver.PublishedRoots(context.Background(), "test-tree", []int64{5, 7, 9}, fetch)

	if len(roots) != 3 {
		t.Fatalf("resolved %d roots, want 3: %v", len(roots), roots)
	}
	if roots[5].RootHash != "aa" || roots[5].TransactionID != "tx-5" {
		t.Errorf("size 5 = %+v, want anchored root tx-5", roots[5])
	}
	if roots[9].RootHash != "bb" || roots[9].TransactionID != "tx-9" {
		t.Errorf("size 9 = %+v, want anchored root tx-9", roots[9])
	}

	// Size 7 has no anchor and must come through the live fallback
	if roots[7].RootHash != "cc" {
		t.Errorf("size 7 = %+v, want live root", roots[7])
	}
	if len(fetched) != 1 || fetched[0] != 7 {
		t.Errorf("fallback fetched %v, want [7]", fetched)
	}
}

func TestResolver_PublishedRoots_OmitsUnresolvable(t *testing.T) {
	// Anchor exists but the gateway has no content for it
	anchors := map[int64]string{5: "tx-missing"}
	graphql, gateway := fakeArweave(t, anchors, nil)

	resolver := NewResolver(nil, graphql.URL, gateway.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))

	fetch := func(ctx context.Context, size int64) (*Root, error) {
		return nil, errors.New("service unavailable")
	}

	roots := resolver.PublishedRoots(context.Background(), "test-tree", []int64{5}, fetch)
	if len(roots) != 0 {
		t.Errorf("resolved %d roots, want 0 when both anchor and fallback fail", len(roots))
	}
}

func TestResolver_PublishedRoots_IndexDown(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	resolver := NewResolver(nil, broken.URL, broken.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Index failure degrades to the live fallback for every size
	fetch := func(ctx context.Context, size int64) (*Root, error) {
		return &Root{Size: size, RootHash: "dd"}, nil
	}
	roots := resolver.PublishedRoots(context.Background(), "test-tree", []int64{2, 4}, fetch)
	if len(roots) != 2 {
		t.Fatalf("resolved %d roots, want 2 via fallback", len(roots))
	}

	// No fallback either: everything is omitted, nothing errors
	roots = resolver.PublishedRoots(context.Background(), "test-tree", []int64{2, 4}, nil)
	if len(roots) != 0 {
		t.Errorf("resolved %d roots, want 0 with no fallback", len(roots))
	}
}

func TestResolver_PublishedRoots_Empty(t *testing.T) {
	resolver := NewResolver(nil, "", "", nil)
	roots := resolver.PublishedRoots(context.Background(), "test-tree", nil, nil)
	if len(roots) != 0 {
		t.Errorf("resolved %d roots for empty request, want 0", len(roots))
	}
}

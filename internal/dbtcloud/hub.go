package dbtcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/avast/retry-go/v4"

	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

const (
	DefaultHubURL = "https://hub.getdbt.com/api/v1"
	hubIndexTTL   = time.Hour
)

// hubStopwords are ignored when matching a request against package names.
var hubStopwords = map[string]bool{
	"dbt": true, "package": true, "packages": true, "the": true, "for": true,
	"with": true, "and": true, "that": true, "can": true, "any": true, "are": true,
	"there": true, "which": true, "what": true, "use": true, "help": true,
}

// HubPackage is one dbt Hub package.
type HubPackage struct {
	Namespace   string `json:"namespace"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Latest      string `json:"latest,omitempty"`
	Install     string `json:"install"`
}

// Hub searches dbt Hub packages. The package index is cached.
type Hub struct {
	http       *http.Client
	baseURL    string
	maxResults int
	retries    int

	mu      sync.Mutex
	index   []string
	fetched time.Time
}

// NewHub creates a Hub client. An empty baseURL selects DefaultHubURL.
func NewHub(httpClient *http.Client, baseURL string, maxResults, retries int) *Hub {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if baseURL == "" {
		baseURL = DefaultHubURL
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	if retries <= 0 {
		retries = 1
	}
	return &Hub{http: httpClient, baseURL: strings.TrimSuffix(baseURL, "/"), maxResults: maxResults, retries: retries}
}

func (h *Hub) getJSON(ctx context.Context, url string, v any) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := h.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
				return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
			}
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode %s: %w", url, err))
			}
			return nil
		},
		retry.RetryIf(isRetryable),
		retry.Attempts(uint(h.retries)),
		retry.Delay(300*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

func (h *Hub) packageIndex(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index != nil && time.Since(h.fetched) < hubIndexTTL {
		return h.index, nil
	}
	var index []string
	if err := h.getJSON(ctx, h.baseURL+"/index.json", &index); err != nil {
		return nil, fmt.Errorf("dbt Hub index: %w", err)
	}
	h.index, h.fetched = index, time.Now()
	return index, nil
}

// Search matches request tokens against package names and returns the best
// matches with their details.
func (h *Hub) Search(ctx context.Context, request string) ([]HubPackage, error) {
	index, err := h.packageIndex(ctx)
	if err != nil {
		return nil, err
	}
	tokens := hubTokens(request)
	if len(tokens) == 0 {
		return nil, nil
	}

	type match struct {
		id    string
		score int
	}
	var matches []match
	for _, id := range index {
		name := strings.ToLower(id)
		score := 0
		for _, tok := range tokens {
			if strings.Contains(name, tok) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, match{id: id, score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].id < matches[j].id
	})
	if len(matches) > h.maxResults {
		matches = matches[:h.maxResults]
	}

	out := make([]HubPackage, 0, len(matches))
	for _, m := range matches {
		out = append(out, h.details(ctx, m.id))
	}
	return out, nil
}

// details fetches a package description. A failed lookup keeps the name.
func (h *Hub) details(ctx context.Context, id string) HubPackage {
	ns, name, _ := strings.Cut(id, "/")
	pkg := HubPackage{Namespace: ns, Name: name}
	var d struct {
		Description string `json:"description"`
		Latest      string `json:"latest"`
	}
	if err := h.getJSON(ctx, fmt.Sprintf("%s/%s.json", h.baseURL, id), &d); err == nil {
		pkg.Description = d.Description
		pkg.Latest = d.Latest
	}
	pkg.Install = fmt.Sprintf("packages:\n  - package: %s", id)
	if pkg.Latest != "" {
		pkg.Install += "\n    version: " + pkg.Latest
	}
	return pkg
}

// hubTokens lowercases the request and keeps the words worth matching.
// Underscores and dashes split words because package names use both.
func hubTokens(request string) []string {
	words := strings.FieldsFunc(strings.ToLower(request), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := map[string]bool{}
	var out []string
	for _, w := range words {
		if len(w) < 3 || hubStopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// HubTool exposes Search as dbt_hub_package_search.
func HubTool(h *Hub) *toolexec.FuncTool {
	return toolexec.NewFuncTool(toolexec.ToolSpec{
		Name: "dbt_hub_package_search",
		Description: "Search dbt Hub packages. Packages are collections of macros, models and tests " +
			"installable in a dbt project. Always return the package name and how to install it.",
		Parameters: map[string]toolexec.ParamSpec{
			"query": {Type: "string", Description: "What the package should do, e.g. \"date spine utilities\".", Required: true},
		},
	}, func(ctx context.Context, args toolexec.Args) (any, error) {
		pkgs, err := h.Search(ctx, args.String("query"))
		if err != nil {
			return nil, err
		}
		if len(pkgs) == 0 {
			return fmt.Sprintf("No dbt Hub packages matched %q.", args.String("query")), nil
		}
		return pkgs, nil
	})
}

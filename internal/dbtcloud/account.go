package dbtcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type account struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Plan string `json:"plan"`
}

// AccountProvider resolves the dbt Cloud account a session talks about.
// It is the dialog's side context.
type AccountProvider struct {
	client *Client
}

// NewAccountProvider creates an AccountProvider.
func NewAccountProvider(c *Client) *AccountProvider {
	return &AccountProvider{client: c}
}

// Fetch returns {account_id, account_name, account_plan} for the configured
// account, or the first one the token can see. No account yields nil.
func (p *AccountProvider) Fetch(ctx context.Context) (map[string]any, error) {
	if !p.client.Configured() {
		return nil, nil
	}
	data, err := p.client.Admin(ctx, http.MethodGet, "accounts/", nil, nil)
	if err != nil {
		return nil, err
	}
	var accounts []account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, nil
	}

	chosen := accounts[0]
	for _, a := range accounts {
		if a.ID == p.client.accountID {
			chosen = a
			break
		}
	}
	return map[string]any{
		"account_id":   chosen.ID,
		"account_name": chosen.Name,
		"account_plan": chosen.Plan,
	}, nil
}

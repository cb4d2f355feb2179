package app

import (
	"encoding/json"
	"net/http"
)

// Handlers for the IFTTT platform's endpoint tests. All of them sit behind
// one of the inbound request gates; the trigger and action business
// endpoints themselves are routed elsewhere.

// handleIFTTTStatus answers the platform's health probe.
func (a *App) handleIFTTTStatus(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleIFTTTUserInfo resolves the verified caller's profile through the
// authority's userinfo endpoint.
func (a *App) handleIFTTTUserInfo(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		unauthorized(w, "Error in verifying access token")
		return
	}

	name := claims.Subject
	if raw, err := a.fetchUserinfo(r); err != nil {
		// The verified subject is still a usable identity; degrade to it.
		a.Logger.Warn("userinfo fetch failed", "error", err)
	} else if n, okName := raw["name"].(string); okName && n != "" {
		name = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"id":   claims.Subject,
			"name": name,
			"url":  a.urlroot(r) + "/users/" + claims.Subject,
		},
	})
}

func (a *App) fetchUserinfo(r *http.Request) (map[string]any, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, a.Config.Authority.UserinfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", r.Header.Get("Authorization"))

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// handleIFTTTTestSetup returns sample trigger and action data for the
// platform's endpoint tests.
func (a *App) handleIFTTTTestSetup(w http.ResponseWriter, r *http.Request) {
	const testAccount = "NL42BUNQ0123456789"

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"samples": map[string]any{
				"triggers": map[string]any{
					"bunq_mutation": map[string]any{
						"account":            testAccount,
						"type":               "ANY",
						"amount_comparator":  "above",
						"amount_value":       "0",
						"balance_comparator": "below",
						"balance_value":      "99999",
					},
					"bunq_balance": map[string]any{
						"account":            testAccount,
						"balance_comparator": "above",
						"balance_value":      "0",
					},
					"bunq_oauth_expires": map[string]any{
						"hours": "9876543210",
					},
				},
				"actions": map[string]any{
					"bunq_internal_payment": map[string]any{
						"amount":         "1.23",
						"source_account": testAccount,
						"target_account": testAccount,
						"description":    "x",
					},
					"bunq_external_payment": map[string]any{
						"amount":         "1.23",
						"source_account": testAccount,
						"target_account": testAccount,
						"target_name":    "John Doe",
						"description":    "x",
					},
				},
				"actionRecordSkipping": map[string]any{
					"bunq_internal_payment": map[string]any{
						"amount":         "-1.23",
						"source_account": testAccount,
						"target_account": testAccount,
						"description":    "x",
					},
				},
			},
		},
	})
}

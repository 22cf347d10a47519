package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v3"
)

// Discover resolves provider metadata from the issuer's discovery
// document and fetches the advertised key set. It is called once at
// startup; the engine has no refresh or caching policy beyond that.
func Discover(ctx context.Context, issuer string, client *http.Client, logger *slog.Logger) (*ProviderMetadata, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}

	provider, err := oidc.NewProvider(ctx, strings.TrimSuffix(issuer, "/"))
	if err != nil {
		return nil, fmt.Errorf("discover provider: %w", err)
	}

	var doc struct {
		Issuer             string   `json:"issuer"`
		UserInfoEndpoint   string   `json:"userinfo_endpoint"`
		EndSessionEndpoint string   `json:"end_session_endpoint"`
		CheckSessionIframe string   `json:"check_session_iframe"`
		JWKSURI            string   `json:"jwks_uri"`
		Algorithms         []string `json:"id_token_signing_alg_values_supported"`
	}
	if err := provider.Claims(&doc); err != nil {
		return nil, fmt.Errorf("parse discovery document: %w", err)
	}

	endpoint := provider.Endpoint()
	meta := &ProviderMetadata{
		Issuer:                doc.Issuer,
		AuthorizationEndpoint: endpoint.AuthURL,
		TokenEndpoint:         endpoint.TokenURL,
		UserInfoEndpoint:      doc.UserInfoEndpoint,
		EndSessionEndpoint:    doc.EndSessionEndpoint,
		CheckSessionIframe:    doc.CheckSessionIframe,
		Algorithms:            doc.Algorithms,
	}

	if doc.JWKSURI != "" {
		keys, err := fetchKeySet(ctx, doc.JWKSURI, client)
		if err != nil {
			return nil, err
		}
		meta.Keys = keys
	} else {
		logger.Warn("provider advertises no jwks_uri, ID-token signatures cannot be verified", "issuer", doc.Issuer)
	}

	logger.Info("provider metadata resolved",
		"issuer", meta.Issuer,
		"check_session", meta.CheckSessionIframe != "",
		"end_session", meta.EndSessionEndpoint != "")
	return meta, nil
}

func fetchKeySet(ctx context.Context, jwksURL string, client *http.Client) (*jose.JSONWebKeySet, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create jwks request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks fetch failed: %s", resp.Status)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	return &set, nil
}

// Package registry resolves the source-control location of a package: it
// fetches canonical package metadata from the registry front door and falls
// back to the untrusted manifest a publish request carries when the front
// door has no record yet.
package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "registry-auth/internal/common/errors"
	"registry-auth/internal/common/logging"
)

// Repository is the repository entry of a package manifest
type Repository struct {
	Type string `json:"type,omitempty"`
	URL  string `json:"url"`
}

type packument struct {
	Repository *Repository        `json:"repository"`
	DistTags   map[string]string  `json:"dist-tags"`
	Versions   map[string]version `json:"versions"`
}

type version struct {
	Repository *Repository `json:"repository"`
}

// Client fetches package metadata from the registry front door
type Client struct {
	host   string
	secret string
	http   *http.Client
	log    logging.Logger
}

// NewClient creates a front door client. secret, when non-empty, is passed
// as the sharedFetchSecret query parameter on every fetch.
func NewClient(host, secret string) *Client {
	return &Client{
		host:   strings.TrimRight(host, "/"),
		secret: secret,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    logging.GetGlobalLogger().WithFields(logging.String("component", "frontdoor")),
	}
}

// ResolveRepository returns the repository entry for the package at pkgPath.
// The front door is authoritative; a 404 there, or a record without a
// repository, falls back to the untrusted manifest body's latest version.
// Any other front door failure is fatal for the request.
func (c *Client) ResolveRepository(ctx context.Context, pkgPath string, untrusted []byte) (*Repository, error) {
	fetchURL := c.host + "/" + strings.TrimLeft(pkgPath, "/")
	if c.secret != "" {
		fetchURL += "?sharedFetchSecret=" + url.QueryEscape(c.secret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, apperrors.Upstream("failed to build front door request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("front door fetch failed", err, logging.String("package", pkgPath))
		return nil, apperrors.Upstream("front door fetch failed for "+pkgPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return repositoryFromUntrusted(untrusted, pkgPath)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Error("unexpected front door response", nil,
			logging.String("package", pkgPath), logging.Int("status", resp.StatusCode))
		return nil, apperrors.ForStatus(resp.StatusCode, "unexpected front door response for "+pkgPath, nil)
	}

	var p packument
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, apperrors.Upstream("undecodable front door response for "+pkgPath, err)
	}
	if p.Repository != nil && p.Repository.URL != "" {
		return p.Repository, nil
	}
	return repositoryFromUntrusted(untrusted, pkgPath)
}

// repositoryFromUntrusted reads the repository of the latest published
// version out of the manifest body the caller supplied
func repositoryFromUntrusted(untrusted []byte, pkgPath string) (*Repository, error) {
	missing := &apperrors.AuthError{
		Kind:       apperrors.KindInvalidRepoURL,
		StatusCode: http.StatusBadRequest,
		Message:    "package manifest carries no repository url: " + pkgPath,
	}

	if len(untrusted) == 0 {
		return nil, missing
	}

	var p packument
	if err := json.Unmarshal(untrusted, &p); err != nil {
		return nil, missing
	}

	latest := p.DistTags["latest"]
	if latest == "" {
		return nil, missing
	}
	v, ok := p.Versions[latest]
	if !ok || v.Repository == nil || v.Repository.URL == "" {
		return nil, missing
	}
	return v.Repository, nil
}

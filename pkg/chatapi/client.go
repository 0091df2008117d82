// chatsync - a poll-based chat message synchronization engine.
// Copyright (C) 2025 Convo Labs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a thin REST client for the message API. It makes exactly one
// attempt per call — retry policy belongs to the poll scheduler, not here.
// The only decision this layer makes is error classification: 401/403
// become a permanent PermissionError, everything else that goes wrong
// becomes a TransientError.
type Client struct {
	BaseURL   string
	Token     string
	UserAgent string
	HTTP      *http.Client
}

// NewClient creates a client for the given API base URL. The token is
// attached to every request as a bearer credential; session cookie setups
// can instead supply a custom http.Client with a cookie jar.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		Token:     token,
		UserAgent: "chatsync/0.1.0",
		HTTP:      &http.Client{Timeout: 30 * time.Second},
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// doRequest performs one request and decodes the JSON response into out
// (when out is non-nil and the response has a body).
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := method + " " + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &TransientError{Op: op, Cause: fmt.Errorf("failed to encode request body: %w", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	reqURL := c.BaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return &TransientError{Op: op, Cause: err}
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &TransientError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return permissionErrorFromResponse(resp)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransientError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(data))),
		}
	}
	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransientError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("failed to decode response body: %w", err),
		}
	}
	return nil
}

// permissionErrorFromResponse builds a PermissionError, preferring the
// server's own error code when the body carries one.
func permissionErrorFromResponse(resp *http.Response) *PermissionError {
	code := CodePermissionDenied
	if resp.StatusCode == http.StatusUnauthorized {
		code = CodeUnauthenticated
	}
	perr := &PermissionError{Code: code, StatusCode: resp.StatusCode}
	var parsed errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&parsed); err == nil {
		if parsed.Code != "" {
			perr.Code = ErrorCode(parsed.Code)
		}
		perr.Message = parsed.Message
	}
	return perr
}

// ListMessages fetches one page of messages for a group. Deleted messages
// are included by the server with a nil text, so the caller's view keeps
// its tombstones.
func (c *Client) ListMessages(ctx context.Context, groupID string, params ListParams) (*MessagePage, error) {
	query := url.Values{}
	if params.Cursor != "" {
		query.Set("cursor", string(params.Cursor))
	}
	if params.Direction != "" {
		query.Set("direction", string(params.Direction))
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	var page MessagePage
	err := c.doRequest(ctx, http.MethodGet, "/v1/groups/"+url.PathEscape(groupID)+"/messages", query, nil, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// SendMessage creates a message and returns the authoritative record,
// including the server-assigned id and created_at.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*Message, error) {
	var record Message
	err := c.doRequest(ctx, http.MethodPost, "/v1/groups/"+url.PathEscape(req.GroupID)+"/messages", nil, &req, &record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteMessage soft-deletes a message. The endpoint is idempotent:
// deleting an already-deleted message succeeds.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.doRequest(ctx, http.MethodDelete, "/v1/messages/"+url.PathEscape(messageID), nil, nil, nil)
}

type markReadResponse struct {
	ReadAt time.Time `json:"read_at"`
}

// MarkMessageRead records a read receipt and returns the server-confirmed
// read timestamp.
func (c *Client) MarkMessageRead(ctx context.Context, messageID string) (time.Time, error) {
	var resp markReadResponse
	err := c.doRequest(ctx, http.MethodPatch, "/v1/messages/"+url.PathEscape(messageID)+"/read", nil, nil, &resp)
	if err != nil {
		return time.Time{}, err
	}
	return resp.ReadAt, nil
}

type profileLookupRequest struct {
	IDs []string `json:"ids"`
}

type profileLookupResponse struct {
	Profiles []Profile `json:"profiles"`
}

// LookupProfiles resolves a batch of user ids to profiles. Ids with no
// resolvable profile are omitted from the result, not errored.
func (c *Client) LookupProfiles(ctx context.Context, ids []string) ([]Profile, error) {
	var resp profileLookupResponse
	err := c.doRequest(ctx, http.MethodPost, "/v1/profiles/lookup", nil, &profileLookupRequest{IDs: ids}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Profiles, nil
}

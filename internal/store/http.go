package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"frostchat/internal/domain"
)

// HTTP talks to the hosted record store's REST API. It implements all three
// record-store contracts; conditional transitions map onto the transition
// endpoint, which answers 409 when the record is not in the expected status.
type HTTP struct {
	Base string
	HTTP *http.Client
}

// NewHTTP returns a record-store client for the given base URL.
func NewHTTP(base string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{Base: base, HTTP: client}
}

// transitionRequest is the wire form of a conditional status update.
type transitionRequest struct {
	Expect         domain.KeyStatus `json:"expect"`
	Status         domain.KeyStatus `json:"status,omitempty"`
	SenderAcked    *bool            `json:"sender_acknowledged,omitempty"`
	ReceiverAcked  *bool            `json:"receiver_acknowledged,omitempty"`
	LastRotationAt *time.Time       `json:"last_rotation_at,omitempty"`
}

// ---------- SessionKeyStore ----------

func (c *HTTP) InsertSessionKey(ctx context.Context, k domain.SessionKey) error {
	return c.post(ctx, "/v1/keys", k, nil)
}

func (c *HTTP) UpdateSessionKey(ctx context.Context, id string, expect domain.KeyStatus, mut domain.KeyMutation) (domain.SessionKey, error) {
	req := transitionRequest{
		Expect:         expect,
		Status:         mut.Status,
		SenderAcked:    mut.SenderAcked,
		ReceiverAcked:  mut.ReceiverAcked,
		LastRotationAt: mut.LastRotationAt,
	}
	var out domain.SessionKey
	if err := c.post(ctx, "/v1/keys/"+url.PathEscape(id)+"/transition", req, &out); err != nil {
		return domain.SessionKey{}, err
	}
	return out, nil
}

func (c *HTTP) GetSessionKey(ctx context.Context, id string) (domain.SessionKey, bool, error) {
	var out domain.SessionKey
	err := c.getJSON(ctx, "/v1/keys/"+url.PathEscape(id), &out)
	if err == errNotFound {
		return domain.SessionKey{}, false, nil
	}
	if err != nil {
		return domain.SessionKey{}, false, err
	}
	return out, true, nil
}

func (c *HTTP) ActiveSessionKey(ctx context.Context, chatID string) (domain.SessionKey, bool, error) {
	var out []domain.SessionKey
	err := c.getJSON(ctx, "/v1/chats/"+url.PathEscape(chatID)+"/keys?status=active", &out)
	if err == errNotFound || (err == nil && len(out) == 0) {
		return domain.SessionKey{}, false, nil
	}
	if err != nil {
		return domain.SessionKey{}, false, err
	}
	return out[0], true, nil
}

func (c *HTTP) SessionKeysByChat(ctx context.Context, chatID string) ([]domain.SessionKey, error) {
	var out []domain.SessionKey
	err := c.getJSON(ctx, "/v1/chats/"+url.PathEscape(chatID)+"/keys", &out)
	if err == errNotFound {
		return nil, nil
	}
	return out, err
}

func (c *HTTP) DeleteSessionKey(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.Base+"/v1/keys/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("record store delete: %s", resp.Status)
	}
	return nil
}

// ---------- TransferStore ----------

func (c *HTTP) InsertTransfer(ctx context.Context, t domain.KeyTransferRecord) error {
	return c.post(ctx, "/v1/transfers", t, nil)
}

func (c *HTTP) PendingTransfers(ctx context.Context, recipientID string, _ time.Time) ([]domain.KeyTransferRecord, error) {
	// Expiry is enforced server-side against the store's clock.
	var out []domain.KeyTransferRecord
	err := c.getJSON(ctx, "/v1/transfers/pending?recipient="+url.QueryEscape(recipientID), &out)
	if err == errNotFound {
		return nil, nil
	}
	return out, err
}

func (c *HTTP) MarkTransferReceived(ctx context.Context, id string) error {
	return c.post(ctx, "/v1/transfers/"+url.PathEscape(id)+"/receive", nil, nil)
}

// ---------- DirectoryStore ----------

func (c *HTTP) PublishIdentity(ctx context.Context, rec domain.IdentityRecord) error {
	return c.put(ctx, "/v1/directory/"+url.PathEscape(rec.UserID), rec)
}

func (c *HTTP) FetchIdentity(ctx context.Context, userID string) (domain.IdentityRecord, bool, error) {
	var out domain.IdentityRecord
	err := c.getJSON(ctx, "/v1/directory/"+url.PathEscape(userID), &out)
	if err == errNotFound {
		return domain.IdentityRecord{}, false, nil
	}
	if err != nil {
		return domain.IdentityRecord{}, false, err
	}
	return out, true, nil
}

// ---------- helpers ----------

var errNotFound = fmt.Errorf("record store: %w", domain.ErrKeyNotFound)

func (c *HTTP) post(ctx context.Context, path string, in, out any) error {
	buf := new(bytes.Buffer)
	if in != nil {
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *HTTP) put(ctx context.Context, path string, in any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, nil)
}

func (c *HTTP) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *HTTP) do(req *http.Request, path string, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return domain.ErrConflict
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("record store %s: %s", path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

var (
	_ domain.SessionKeyStore = (*HTTP)(nil)
	_ domain.TransferStore   = (*HTTP)(nil)
	_ domain.DirectoryStore  = (*HTTP)(nil)
)

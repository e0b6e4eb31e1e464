// Package clouddrive implements the drive.Store contract against a
// clouddrive-style HTTP JSON API: token login, directory listings, ranged
// content streams, and direct download URLs.
package clouddrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/drivefs-fuse/drivefs-go/internal/drive"
)

// Client talks to one clouddrive server with one session token.
type Client struct {
	origin string
	token  string
	http   *http.Client
	log    *logrus.Entry
}

var _ drive.Store = (*Client)(nil)

// Login authenticates against origin and returns a ready client. Session
// renewal on expiry is the server contract's business, not the caller's.
func Login(ctx context.Context, origin, username, password string) (*Client, error) {
	c := &Client{
		origin: origin,
		http:   &http.Client{Timeout: 0},
		log:    logrus.WithField("component", "clouddrive"),
	}
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, origin+"/api/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "login failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("login failed: %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "login response undecodable")
	}
	c.token = out.Token
	return c, nil
}

type listItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
	Ctime int64  `json:"ctime"`
	Mtime int64  `json:"mtime"`
	Atime int64  `json:"atime"`
	URL   string `json:"url,omitempty"`
	Hash  string `json:"hash,omitempty"`
}

// ListChildren lists the children of the directory at dir.
func (c *Client) ListChildren(ctx context.Context, dir string) ([]drive.Item, error) {
	var out struct {
		Items []listItem `json:"items"`
		DirID string     `json:"dir_id"`
	}
	q := url.Values{"path": {dir}}
	if err := c.getJSON(ctx, "/api/fs/list", q, &out); err != nil {
		return nil, err
	}
	items := make([]drive.Item, 0, len(out.Items))
	for _, it := range out.Items {
		items = append(items, drive.Item{
			ID:       it.ID,
			Name:     it.Name,
			ParentID: out.DirID,
			IsDir:    it.IsDir,
			Size:     it.Size,
			Ctime:    time.Unix(it.Ctime, 0),
			Mtime:    time.Unix(it.Mtime, 0),
			Atime:    time.Unix(it.Atime, 0),
			URL:      it.URL,
			Hash:     it.Hash,
		})
	}
	return items, nil
}

// DirectURL returns a URL resolving the item's content directly.
func (c *Client) DirectURL(ctx context.Context, item drive.Item) (string, error) {
	if item.URL != "" {
		return item.URL, nil
	}
	var out struct {
		URL string `json:"url"`
	}
	q := url.Values{"id": {item.ID}}
	if err := c.getJSON(ctx, "/api/fs/url", q, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", errors.Errorf("no url for item %s", item.ID)
	}
	return out.URL, nil
}

// OpenRange opens a ranged content stream for the item. Seeking the
// returned file reconnects at the new offset.
func (c *Client) OpenRange(ctx context.Context, item Item, start int64) (drive.File, error) {
	f := &httpFile{
		ctx:    ctx,
		client: c.http,
		url:    c.origin + "/api/fs/raw?id=" + url.QueryEscape(item.ID),
		token:  c.token,
		length: item.Size,
		pos:    start,
	}
	if err := f.connect(start); err != nil {
		return nil, err
	}
	return f, nil
}

// Item aliases drive.Item for the Store signature.
type Item = drive.Item

func (c *Client) getJSON(ctx context.Context, apiPath string, q url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.origin+apiPath+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s failed", apiPath)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("GET %s: %s", apiPath, resp.Status)
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "GET %s: bad response", apiPath)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// httpFile is a remote byte stream over HTTP range requests. The body is
// reopened lazily after a Seek; Length reports the total object size from
// the Content-Range of the first response.
type httpFile struct {
	ctx    context.Context
	client *http.Client
	url    string
	token  string
	length int64
	pos    int64
	body   io.ReadCloser
}

func (f *httpFile) connect(offset int64) error {
	req, err := http.NewRequestWithContext(f.ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return err
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "range request failed")
	}
	switch resp.StatusCode {
	case http.StatusOK:
		if offset > 0 {
			// server ignored the range; content length is still the total
			resp.Body.Close()
			return errors.Errorf("server does not support range requests: %s", f.url)
		}
		if resp.ContentLength >= 0 {
			f.length = resp.ContentLength
		}
	case http.StatusPartialContent:
		var first, last, total int64
		if _, err := fmt.Sscanf(resp.Header.Get("Content-Range"), "bytes %d-%d/%d", &first, &last, &total); err == nil {
			f.length = total
		}
	default:
		resp.Body.Close()
		return errors.Errorf("range request: %s", resp.Status)
	}
	f.body = resp.Body
	f.pos = offset
	return nil
}

func (f *httpFile) Read(p []byte) (int, error) {
	if f.body == nil {
		if err := f.connect(f.pos); err != nil {
			return 0, err
		}
	}
	n, err := f.body.Read(p)
	f.pos += int64(n)
	return n, err
}

func (f *httpFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.pos + offset
	case io.SeekEnd:
		abs = f.length + offset
	default:
		return 0, errors.Errorf("bad whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("negative seek")
	}
	if abs != f.pos {
		if f.body != nil {
			f.body.Close()
			f.body = nil
		}
		f.pos = abs
	}
	return abs, nil
}

func (f *httpFile) Close() error {
	if f.body == nil {
		return nil
	}
	err := f.body.Close()
	f.body = nil
	return err
}

// Length reports the total size of the remote object.
func (f *httpFile) Length() int64 { return f.length }

package romm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultLimit = 72
)

// Platform represents a RomM platform entry.
type Platform struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	RomCount int    `json:"rom_count"`
}

// SiblingRom is another version of the same game as listed by RomM.
type SiblingRom struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	FsName string `json:"fs_name"`
}

// Rom represents the payload returned by GET /api/roms and /api/roms/{id}.
type Rom struct {
	ID               int64        `json:"id"`
	PlatformID       int64        `json:"platform_id"`
	Name             string       `json:"name"`
	FsName           string       `json:"fs_name"`
	FsNameNoExt      string       `json:"fs_name_no_ext"`
	Multi            bool         `json:"multi"`
	HasMultipleFiles bool         `json:"has_multiple_files"`
	SiblingRoms      []SiblingRom `json:"sibling_roms"`
}

// IsMulti reports whether RomM serves the ROM as an archive of several
// files. Older servers call the flag "multi".
func (r *Rom) IsMulti() bool {
	return r.Multi || r.HasMultipleFiles
}

// DisplayName returns the name to show, falling back to the file name.
func (r *Rom) DisplayName() string {
	if strings.TrimSpace(r.Name) != "" {
		return r.Name
	}
	if r.FsNameNoExt != "" {
		return r.FsNameNoExt
	}
	return r.FsName
}

// ListRomsResponse captures the paginated response from GET /api/roms.
type ListRomsResponse struct {
	Items  []Rom `json:"items"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int   `json:"total"`
}

// Client handles RomM API calls.
type Client struct {
	host         string
	httpClient   *http.Client
	downloadHTTP *http.Client

	sessionCookie string
	csrfToken     string
}

// New creates a new RomM API client.
func New(host, session, csrf string) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("romm host must be provided")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid romm host: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	session = strings.TrimSpace(session)
	csrf = strings.TrimSpace(csrf)
	cookie := ""
	if session != "" {
		cookie = fmt.Sprintf("romm_session=%s; romm_csrftoken=%s", session, csrf)
	}

	return &Client{
		host:          strings.TrimSuffix(u.String(), "/"),
		sessionCookie: cookie,
		csrfToken:     csrf,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		// transfers are bounded by the job context instead
		downloadHTTP: &http.Client{},
	}, nil
}

func (c *Client) baseURL(p string) string {
	return c.host + path.Clean("/"+p)
}

func (c *Client) applyCommonHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", "romget")
	if c.sessionCookie != "" {
		req.Header.Set("Cookie", c.sessionCookie)
	}
	if c.csrfToken != "" {
		req.Header.Set("X-CSRFToken", c.csrfToken)
	}
}

func (c *Client) getJSON(ctx context.Context, endpoint, what string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.applyCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", what, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

// GetPlatforms retrieves every platform from RomM.
func (c *Client) GetPlatforms(ctx context.Context) ([]Platform, error) {
	var platforms []Platform
	if err := c.getJSON(ctx, c.baseURL("/api/platforms"), "get platforms", &platforms); err != nil {
		return nil, err
	}
	return platforms, nil
}

// ListRoms lists ROMs for a specific platform with paging.
func (c *Client) ListRoms(ctx context.Context, platformID int64, limit, offset int) (*ListRomsResponse, error) {
	if limit <= 0 || limit > defaultLimit {
		limit = defaultLimit
	}

	query := url.Values{}
	query.Set("platform_id", fmt.Sprintf("%d", platformID))
	query.Set("limit", fmt.Sprintf("%d", limit))
	query.Set("offset", fmt.Sprintf("%d", offset))
	query.Set("order_by", "name")
	query.Set("order_dir", "asc")
	query.Set("group_by_meta_id", "true")

	var result ListRomsResponse
	if err := c.getJSON(ctx, c.baseURL("/api/roms")+"?"+query.Encode(), "list roms", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRom fetches the details of one ROM, including its siblings.
func (c *Client) GetRom(ctx context.Context, romID int64) (*Rom, error) {
	var rom Rom
	if err := c.getJSON(ctx, c.baseURL(fmt.Sprintf("/api/roms/%d", romID)), fmt.Sprintf("get rom %d", romID), &rom); err != nil {
		return nil, err
	}
	return &rom, nil
}

// ContentURL returns the download url of a ROM file.
func (c *Client) ContentURL(romID int64, fileName string) string {
	return c.baseURL(fmt.Sprintf("/api/roms/%d/content", romID)) + "/" + url.PathEscape(fileName)
}

// DownloadContent streams a ROM file to destPath. The body is written to a
// temporary sibling file first, so destPath only appears once complete.
func (c *Client) DownloadContent(ctx context.Context, romID int64, fileName, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ContentURL(romID, fileName), nil)
	if err != nil {
		return err
	}
	c.applyCommonHeaders(req)
	req.Header.Set("Accept", "*/*")

	resp, err := c.downloadHTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("download rom %d: status %d: %s", romID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("ensure dest dir %s: %w", destPath, err)
	}
	tmp := destPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create dest %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("write dest %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close dest %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return fmt.Errorf("move %s into place: %w", destPath, err)
	}
	return nil
}

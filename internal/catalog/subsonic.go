// Package catalog talks to a Subsonic-compatible music server.
package catalog

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/disconic/disconic/internal/errs"
	"github.com/disconic/disconic/internal/playlist"
)

const (
	apiVersion = "1.16.1"
	clientName = "disconic"

	// Subsonic error code for a missing song or album
	codeNotFound = 70
)

// Client is a Subsonic REST client
type Client struct {
	baseURL  *url.URL
	user     string
	password string

	httpClient   *http.Client
	streamClient *http.Client
	logger       *zap.Logger
}

// NewClient creates a client for the server at baseURL. timeout bounds API
// calls; track downloads are bounded by their context only.
func NewClient(baseURL, user, password string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid subsonic url %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Newf("invalid subsonic url %q: scheme must be http or https", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:      u,
		user:         user,
		password:     password,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
		logger:       logger.Named("catalog"),
	}, nil
}

type song struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Duration int    `json:"duration"`
}

type album struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Artist string `json:"artist"`
	Song   []song `json:"song"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	Status        string    `json:"status"`
	Error         *apiError `json:"error"`
	SearchResult3 struct {
		Song  []song  `json:"song"`
		Album []album `json:"album"`
	} `json:"searchResult3"`
	Album       album `json:"album"`
	RandomSongs struct {
		Song []song `json:"song"`
	} `json:"randomSongs"`
}

type envelope struct {
	Response response `json:"subsonic-response"`
}

func (s song) track() playlist.Track {
	return playlist.Track{
		Title:    s.Title,
		Artist:   s.Artist,
		Album:    s.Album,
		Locator:  playlist.StreamLocator(s.ID),
		Duration: time.Duration(s.Duration) * time.Second,
	}
}

// endpoint builds the URL of a REST method with token authentication
func (c *Client) endpoint(method string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	salt := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	sum := md5.Sum([]byte(c.password + salt))

	params.Set("u", c.user)
	params.Set("t", hex.EncodeToString(sum[:]))
	params.Set("s", salt)
	params.Set("v", apiVersion)
	params.Set("c", clientName)
	params.Set("f", "json")

	u := *c.baseURL
	u.Path = u.Path + "/rest/" + method
	u.RawQuery = params.Encode()
	return u.String()
}

func (c *Client) call(ctx context.Context, method string, params url.Values) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(method, params), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s request", method)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "subsonic %s", method)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("subsonic %s: HTTP %d", method, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, errors.Wrapf(err, "subsonic %s: malformed response", method)
	}
	if err := env.Response.err(method); err != nil {
		return nil, err
	}
	return &env.Response, nil
}

func (r *response) err(method string) error {
	if r.Status == "ok" {
		return nil
	}
	if r.Error == nil {
		return errors.Newf("subsonic %s: status %q", method, r.Status)
	}
	if r.Error.Code == codeNotFound {
		return errs.New(errs.KindNotFound, method, r.Error.Message)
	}
	return errors.Newf("subsonic %s: error %d: %s", method, r.Error.Code, r.Error.Message)
}

// Ping checks the server is reachable and accepts our credentials
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", nil)
	return err
}

// SearchSong returns the best song match for query
func (c *Client) SearchSong(ctx context.Context, query string) (playlist.Track, error) {
	resp, err := c.call(ctx, "search3", url.Values{
		"query":       {query},
		"songCount":   {"1"},
		"albumCount":  {"0"},
		"artistCount": {"0"},
	})
	if err != nil {
		return playlist.Track{}, err
	}
	if len(resp.SearchResult3.Song) == 0 {
		return playlist.Track{}, errs.New(errs.KindNotFound, "song", "No song matching search found")
	}
	s := resp.SearchResult3.Song[0]
	c.logger.Debug("Found song", zap.String("query", query), zap.String("id", s.ID), zap.String("title", s.Title))
	return s.track(), nil
}

// SearchAlbum returns the best album match for query with all its songs
func (c *Client) SearchAlbum(ctx context.Context, query string) (playlist.Album, error) {
	resp, err := c.call(ctx, "search3", url.Values{
		"query":       {query},
		"songCount":   {"0"},
		"albumCount":  {"1"},
		"artistCount": {"0"},
	})
	if err != nil {
		return playlist.Album{}, err
	}
	if len(resp.SearchResult3.Album) == 0 {
		return playlist.Album{}, errs.New(errs.KindNotFound, "album", "No albums matching search found")
	}

	found := resp.SearchResult3.Album[0]
	resp, err = c.call(ctx, "getAlbum", url.Values{"id": {found.ID}})
	if err != nil {
		return playlist.Album{}, err
	}

	a := playlist.Album{Name: resp.Album.Name, Artist: resp.Album.Artist}
	for _, s := range resp.Album.Song {
		a.Tracks = append(a.Tracks, s.track())
	}
	c.logger.Debug("Found album", zap.String("query", query), zap.String("id", found.ID), zap.Int("songs", len(a.Tracks)))
	return a, nil
}

// RandomSong returns one random song from the library
func (c *Client) RandomSong(ctx context.Context) (playlist.Track, error) {
	resp, err := c.call(ctx, "getRandomSongs", url.Values{"size": {"1"}})
	if err != nil {
		return playlist.Track{}, err
	}
	if len(resp.RandomSongs.Song) == 0 {
		return playlist.Track{}, errs.New(errs.KindNotFound, "random", "No song matching search found")
	}
	return resp.RandomSongs.Song[0].track(), nil
}

// Open streams the original file of the song behind locator. The body is
// read under ctx, so ctx must live as long as playback.
func (c *Client) Open(ctx context.Context, locator playlist.StreamLocator) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("stream", url.Values{
		"id":     {string(locator)},
		"format": {"raw"},
	}), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build stream request")
	}
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stream %s", locator)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Newf("failed to stream %s: HTTP %d", locator, resp.StatusCode)
	}

	// Errors come back as a regular API document instead of audio
	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") || strings.HasPrefix(ct, "text/xml") {
		defer resp.Body.Close()
		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, errors.Newf("failed to stream %s: unexpected %s body", locator, ct)
		}
		if err := env.Response.err("stream"); err != nil {
			return nil, err
		}
		return nil, errors.Newf("failed to stream %s: no audio returned", locator)
	}
	return resp.Body, nil
}

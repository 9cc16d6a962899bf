// Package catalog looks up playable tracks for a theme playlist.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var ErrEmptyPlaylist = errors.New("playlist has no playable tracks")

const playlistLimit = 100

// Track is the metadata a round is built from.
type Track struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	PreviewURL  string `json:"previewUrl"`
	CoverURL    string `json:"coverUrl"`
	ExternalURL string `json:"externalUrl"`
}

type deezerPlaylistResponse struct {
	Data []struct {
		Title   string `json:"title"`
		Preview string `json:"preview"`
		Link    string `json:"link"`
		Artist  struct {
			Name string `json:"name"`
		} `json:"artist"`
		Album struct {
			Cover    string `json:"cover"`
			CoverBig string `json:"cover_big"`
		} `json:"album"`
	} `json:"data"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Deezer fetches tracks from the public Deezer playlist API. Each lookup is a
// single request with no retry.
type Deezer struct {
	baseURL string
	client  *http.Client

	mu  sync.Mutex
	rng *rand.Rand
}

func NewDeezer(baseURL string, timeout time.Duration, rng *rand.Rand) *Deezer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Deezer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		rng:     rng,
	}
}

// FetchRandomTrack picks one track with a preview clip from the playlist.
func (d *Deezer) FetchRandomTrack(ctx context.Context, themeID string) (Track, error) {
	if strings.TrimSpace(themeID) == "" {
		return Track{}, errors.New("theme id is required")
	}
	endpoint := fmt.Sprintf("%s/playlist/%s/tracks?limit=%d", d.baseURL, url.PathEscape(themeID), playlistLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Track{}, fmt.Errorf("failed to build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Track{}, fmt.Errorf("failed to reach catalog: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Track{}, fmt.Errorf("failed to read catalog response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Track{}, fmt.Errorf("catalog request failed (%d)", resp.StatusCode)
	}

	var parsed deezerPlaylistResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Track{}, fmt.Errorf("failed to parse catalog response: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return Track{}, fmt.Errorf("catalog error: %s", parsed.Error.Message)
	}

	playable := make([]Track, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		if item.Preview == "" || item.Title == "" {
			continue
		}
		cover := item.Album.CoverBig
		if cover == "" {
			cover = item.Album.Cover
		}
		playable = append(playable, Track{
			Title:       item.Title,
			Artist:      item.Artist.Name,
			PreviewURL:  item.Preview,
			CoverURL:    cover,
			ExternalURL: item.Link,
		})
	}
	if len(playable) == 0 {
		return Track{}, fmt.Errorf("playlist %s: %w", themeID, ErrEmptyPlaylist)
	}

	d.mu.Lock()
	pick := playable[d.rng.IntN(len(playable))]
	d.mu.Unlock()
	return pick, nil
}

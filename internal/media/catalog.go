// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ManuGH/playerstate/internal/player/state"
	"gopkg.in/yaml.v3"
)

// CatalogFile is the on-disk catalog layout.
type CatalogFile struct {
	Items []Item `yaml:"items"`
}

type Item struct {
	ID       string               `yaml:"id"`
	Title    string               `yaml:"title"`
	Type     state.MediaKind      `yaml:"type"`
	Source   state.SourceState    `yaml:"source"`
	Captions []state.CaptionTrack `yaml:"captions,omitempty"`
	Episodes []Episode            `yaml:"episodes,omitempty"`
}

type Episode struct {
	ID       string               `yaml:"id"`
	Season   string               `yaml:"season,omitempty"`
	Number   int                  `yaml:"number,omitempty"`
	Title    string               `yaml:"title,omitempty"`
	Source   state.SourceState    `yaml:"source"`
	Captions []state.CaptionTrack `yaml:"captions,omitempty"`
}

// Catalog serves Meta and Source from a static item list. It is immutable
// after loading.
type Catalog struct {
	items map[string]Item
}

var (
	_ MetaProvider   = (*Catalog)(nil)
	_ SourceResolver = (*Catalog)(nil)
)

// LoadCatalog reads a YAML catalog. Unknown fields are rejected.
func LoadCatalog(path string) (*Catalog, error) {
	path = filepath.Clean(path)
	// #nosec G304 -- catalog path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(bytes.NewReader(data))
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var f CatalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("strict catalog parse error: %w", err)
	}
	return NewCatalog(f.Items)
}

// NewCatalog validates items and indexes them by id.
func NewCatalog(items []Item) (*Catalog, error) {
	c := &Catalog{items: make(map[string]Item, len(items))}
	for i, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return nil, fmt.Errorf("catalog item %d: missing id", i)
		}
		if _, dup := c.items[it.ID]; dup {
			return nil, fmt.Errorf("catalog item %q: duplicate id", it.ID)
		}
		switch it.Type {
		case "":
			if len(it.Episodes) > 0 {
				it.Type = state.MediaShow
			} else {
				it.Type = state.MediaMovie
			}
		case state.MediaMovie:
			if len(it.Episodes) > 0 {
				return nil, fmt.Errorf("catalog item %q: movie with episodes", it.ID)
			}
		case state.MediaShow:
			if len(it.Episodes) == 0 {
				return nil, fmt.Errorf("catalog item %q: show without episodes", it.ID)
			}
		default:
			return nil, fmt.Errorf("catalog item %q: unknown type %q", it.ID, it.Type)
		}
		c.items[it.ID] = it
	}
	return c, nil
}

// Len returns the number of items.
func (c *Catalog) Len() int { return len(c.items) }

// IDs returns the sorted item ids.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// lookup resolves an item and, for shows, its episode. An empty episodeID
// selects the first episode of a show.
func (c *Catalog) lookup(mediaID, episodeID string) (Item, *Episode, error) {
	it, ok := c.items[mediaID]
	if !ok {
		return Item{}, nil, fmt.Errorf("%w: %s", ErrNotFound, mediaID)
	}
	if it.Type != state.MediaShow {
		if episodeID != "" {
			return Item{}, nil, fmt.Errorf("%w: %s has no episodes", ErrNotFound, mediaID)
		}
		return it, nil, nil
	}
	if episodeID == "" {
		return it, &it.Episodes[0], nil
	}
	for i := range it.Episodes {
		if it.Episodes[i].ID == episodeID {
			return it, &it.Episodes[i], nil
		}
	}
	return Item{}, nil, fmt.Errorf("%w: %s/%s", ErrNotFound, mediaID, episodeID)
}

func (c *Catalog) Meta(_ context.Context, mediaID, episodeID string) (state.MetaState, error) {
	it, ep, err := c.lookup(mediaID, episodeID)
	if err != nil {
		return state.MetaState{}, err
	}
	m := state.MetaState{
		MediaID:  it.ID,
		Title:    it.Title,
		Type:     it.Type,
		Captions: slices.Clone(it.Captions),
	}
	if ep != nil {
		m.Episode = &state.Episode{
			EpisodeID: ep.ID,
			SeasonID:  ep.Season,
			Number:    ep.Number,
			Title:     ep.Title,
		}
		if len(ep.Captions) > 0 {
			m.Captions = slices.Clone(ep.Captions)
		}
	}
	return m, nil
}

func (c *Catalog) Resolve(_ context.Context, mediaID, episodeID string) (state.SourceState, error) {
	it, ep, err := c.lookup(mediaID, episodeID)
	if err != nil {
		return state.SourceState{}, err
	}
	src := it.Source
	if ep != nil && ep.Source.URL != "" {
		src = ep.Source
	}
	if src.URL == "" {
		return state.SourceState{}, fmt.Errorf("%w: %s has no source", ErrNotFound, mediaID)
	}
	if src.Type == "" {
		src.Type = sourceTypeFor(src.URL)
	}
	return src, nil
}

func sourceTypeFor(url string) state.SourceType {
	if strings.HasSuffix(strings.ToLower(strings.SplitN(url, "?", 2)[0]), ".m3u8") {
		return state.SourceHLS
	}
	return state.SourceMP4
}

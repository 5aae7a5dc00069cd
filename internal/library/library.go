// Package library finds songs on the local filesystem and watches for changes.
package library

import (
	"context"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BTreeMap/RumiPet/internal/models"
)

// Labels used when a file carries no usable metadata.
const (
	UnknownArtist = "Artista Desconocido"
	UnknownAlbum  = "Álbum Desconocido"
)

// AudioExtensions lists the file extensions treated as music.
var AudioExtensions = map[string]bool{
	".mp3":  true,
	".ogg":  true,
	".oga":  true,
	".opus": true,
	".flac": true,
	".wav":  true,
	".m4a":  true,
	".aac":  true,
}

// DirSource enumerates music files below Root. Files are named "Artist - Title.ext" or
// "Title.ext"; the parent directory is the album.
type DirSource struct {
	Root string
}

// NewDirSource returns a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{Root: dir}
}

// EnumerateSongs walks Root and returns the songs ordered by album then title. Unreadable
// subdirectories are skipped.
func (d *DirSource) EnumerateSongs(ctx context.Context) ([]models.Song, error) {
	if d.Root == "" {
		return nil, nil
	}
	var songs []models.Song
	err := filepath.WalkDir(d.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == d.Root {
				return err
			}
			slog.Warn("DirSource.EnumerateSongs: skipping unreadable entry", "path", path, "error", err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !IsAudioFile(path) {
			return nil
		}
		songs = append(songs, d.songFor(path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan music directory %q: %w", d.Root, err)
	}
	sort.SliceStable(songs, func(i, j int) bool {
		if songs[i].Album != songs[j].Album {
			return songs[i].Album < songs[j].Album
		}
		return songs[i].Title < songs[j].Title
	})
	slog.Debug("DirSource.EnumerateSongs: scan complete", "root", d.Root, "songs", len(songs))
	return songs, nil
}

func (d *DirSource) songFor(path string) models.Song {
	rel, err := filepath.Rel(d.Root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	title, artist := base, UnknownArtist
	if a, t, ok := strings.Cut(base, " - "); ok && strings.TrimSpace(a) != "" && strings.TrimSpace(t) != "" {
		artist, title = strings.TrimSpace(a), strings.TrimSpace(t)
	}

	album, albumKey := UnknownAlbum, ""
	if dir := filepath.Dir(rel); dir != "." {
		album, albumKey = filepath.Base(dir), dir
	}

	return models.Song{
		ID:      stableID(rel),
		Locator: path,
		Title:   title,
		Artist:  artist,
		Album:   album,
		AlbumID: stableID("album:" + albumKey),
	}
}

// IsAudioFile reports whether path has a known music extension.
func IsAudioFile(path string) bool {
	return AudioExtensions[strings.ToLower(filepath.Ext(path))]
}

// stableID derives a positive id from key so playlists survive rescans.
func stableID(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64() >> 1)
}

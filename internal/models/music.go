package models

import "fmt"

// Song is a locally available track. Locator is opaque to the engine and only
// interpreted by the audio backend.
type Song struct {
	ID         int64  `json:"id"`
	Locator    string `json:"locator"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	AlbumID    int64  `json:"album_id"`
	DurationMs int    `json:"duration_ms"`
}

// DisplayName renders the song as "Artist - Title" for the chat context.
func (s Song) DisplayName() string {
	return fmt.Sprintf("%s - %s", s.Artist, s.Title)
}

// PlaybackState is an immutable snapshot of the playback engine.
// Progress resets to 0 on every song change; BassLevel only moves while IsPlaying.
type PlaybackState struct {
	CurrentSong *Song   `json:"current_song,omitempty"`
	Queue       []Song  `json:"queue"`
	Shuffle     bool    `json:"shuffle"`
	Favorite    bool    `json:"favorite"`
	IsPlaying   bool    `json:"is_playing"`
	Progress    float64 `json:"progress"`
	BassLevel   float64 `json:"bass_level"`
}

// QueueIndex returns the position of the current song in the queue, or -1.
func (p PlaybackState) QueueIndex() int {
	if p.CurrentSong == nil {
		return -1
	}
	for i, s := range p.Queue {
		if s.ID == p.CurrentSong.ID {
			return i
		}
	}
	return -1
}

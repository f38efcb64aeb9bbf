package mpd

import "math"

// SongBlock is one song record decoded from a file-delimited response.
// Text tags absent from the stream stay empty; numeric fields stay nil so an
// unknown duration is distinguishable from a zero-length track.
type SongBlock struct {
	File        string
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genre       string
	Date        string
	Name        string

	ID    *int
	Pos   *int
	Track *int
	Time  *int // seconds
}

// DisplayTitle returns the title tag, falling back to the stream name and
// then to the last path element of the file.
func (s SongBlock) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	if s.Name != "" {
		return s.Name
	}
	for i := len(s.File) - 1; i >= 0; i-- {
		if s.File[i] == '/' {
			return s.File[i+1:]
		}
	}
	return s.File
}

// SongBlockParser folds response lines into song blocks. A "file" line closes
// the block in progress and opens the next one. State carries over between
// Feed calls, so input may be split anywhere.
type SongBlockParser struct {
	current *SongBlock
	// durationOnly is set while Time came from a "duration" line; a later
	// "time" line overrides it.
	durationOnly bool
}

// Feed consumes lines and returns the blocks they completed.
func (p *SongBlockParser) Feed(lines []ResponseLine) []SongBlock {
	var out []SongBlock
	for _, line := range lines {
		if line.Keyword == KeywordFile {
			if p.current != nil && p.current.File != "" {
				out = append(out, *p.current)
			}
			p.current = &SongBlock{File: line.Value}
			p.durationOnly = false
			continue
		}
		p.apply(line)
	}
	return out
}

// Flush ends the input and returns the block in progress, if it has a file.
func (p *SongBlockParser) Flush() []SongBlock {
	cur := p.current
	p.current = nil
	p.durationOnly = false
	if cur == nil || cur.File == "" {
		return nil
	}
	return []SongBlock{*cur}
}

func (p *SongBlockParser) apply(line ResponseLine) {
	if line.Keyword == KeywordUnrecognized || !line.HasValue {
		return
	}
	if p.current == nil {
		// Fields before the first file line have no block to belong to.
		p.current = &SongBlock{}
	}
	s := p.current

	switch line.Keyword {
	case KeywordTitle:
		s.Title = line.Value
	case KeywordArtist:
		s.Artist = line.Value
	case KeywordAlbum:
		s.Album = line.Value
	case KeywordAlbumArtist:
		s.AlbumArtist = line.Value
	case KeywordGenre:
		s.Genre = line.Value
	case KeywordDate:
		s.Date = line.Value
	case KeywordName:
		s.Name = line.Value
	case KeywordID:
		s.ID = intValue(line)
	case KeywordPos:
		s.Pos = intValue(line)
	case KeywordTrack:
		s.Track = intValue(line)
	case KeywordTime:
		if v := intValue(line); v != nil {
			s.Time = v
			p.durationOnly = false
		}
	case KeywordDuration:
		if s.Time != nil && !p.durationOnly {
			return
		}
		if f, err := line.Float(); err == nil {
			secs := int(math.Round(f))
			s.Time = &secs
			p.durationOnly = true
		}
	}
}

func intValue(line ResponseLine) *int {
	n, err := line.Int()
	if err != nil {
		return nil
	}
	return &n
}

// ParseSongBlocks decodes a complete response in one call.
func ParseSongBlocks(lines []ResponseLine) []SongBlock {
	var p SongBlockParser
	blocks := p.Feed(lines)
	return append(blocks, p.Flush()...)
}

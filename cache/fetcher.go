package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dndj/logger"

	"github.com/lrstanley/go-ytdlp"
)

// YTDLPFetcher downloads remote audio with yt-dlp and extracts it with ffmpeg.
type YTDLPFetcher struct {
	executable  string
	ffmpegPath  string
	audioFormat string
	maxRetries  int
	retryDelay  time.Duration
}

// NewYTDLPFetcher creates a fetcher. An empty executable resolves yt-dlp from PATH.
func NewYTDLPFetcher(executable, ffmpegPath string) *YTDLPFetcher {
	return &YTDLPFetcher{
		executable:  executable,
		ffmpegPath:  ffmpegPath,
		audioFormat: "mp3",
		maxRetries:  1,
		retryDelay:  2 * time.Second,
	}
}

func (f *YTDLPFetcher) command(dir string) *ytdlp.Command {
	dl := ytdlp.New().
		Format("bestaudio/best").
		ExtractAudio().
		AudioFormat(f.audioFormat).
		NoPlaylist().
		RestrictFilenames().
		ForceIPv4().
		Quiet().
		NoWarnings().
		Output(filepath.Join(dir, "%(id)s.%(ext)s"))
	if f.ffmpegPath != "" {
		dl.FFmpegLocation(f.ffmpegPath)
	}
	if f.executable != "" {
		dl.SetExecutable(f.executable)
	}
	return dl
}

// Fetch downloads ref into dir and returns the stored file name.
func (f *YTDLPFetcher) Fetch(ctx context.Context, id, ref, dir string) (string, error) {
	dl := f.command(dir)

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(f.retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			logger.Info("retrying download", logger.String("id", id), logger.Int("attempt", attempt+1))
		}

		if _, err := dl.Run(ctx, ref); err != nil {
			lastErr = err
			logger.Warn("download attempt failed",
				logger.String("id", id),
				logger.Int("attempt", attempt+1),
				logger.ErrorField(err))
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		return findDownloaded(dir, id, f.audioFormat)
	}
	return "", fmt.Errorf("yt-dlp %s: %w", id, lastErr)
}

// findDownloaded locates "<id>.<ext>" in dir, preferring the extracted format.
func findDownloaded(dir, id, preferredExt string) (string, error) {
	preferred := id + "." + preferredExt
	if isFile(filepath.Join(dir, preferred)) {
		return preferred, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, id+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		name := filepath.Base(m)
		if !isPartial(name) && idFromFile(name) == id {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no file for %s in %s", os.ErrNotExist, id, dir)
}

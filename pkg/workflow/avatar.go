package workflow

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/url"
	"path"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/notify"
	"github.com/lisanmuaddib/profilegraph/pkg/queue"
)

// ThumbSize bounds both sides of an avatar thumbnail
const ThumbSize = 32

// ScrapeAvatar stores the avatar at args.URL for a profile. An avatar already
// stored under the same normalized URL only has its validity window
// extended.
func (e *Engine) ScrapeAvatar(ctx context.Context, args AvatarArgs, progress queue.Reporter) error {
	profile, err := e.store.Profile(ctx, args.ProfileID)
	if err != nil {
		return err
	}
	errEvent := notify.ErrorEvent{ID: profile.ID}

	ctx, adapter, err := e.prepare(ctx, profile.Site)
	if err != nil {
		return e.fail(ctx, notify.ChannelAvatar, profile.Site, "avatar", errEvent, err)
	}

	progress.StartJob(ctx, 0)
	avatarURL := adapter.NormalizeAvatarURL(args.URL)

	avatar, err := e.store.FindAvatar(ctx, profile.ID, avatarURL)
	if err != nil {
		return e.fail(ctx, notify.ChannelAvatar, profile.Site, "avatar", errEvent, err)
	}

	if avatar != nil {
		if err := e.store.TouchAvatar(ctx, avatar); err != nil {
			return e.fail(ctx, notify.ChannelAvatar, profile.Site, "avatar", errEvent, err)
		}
	} else {
		blob, err := adapter.Download(ctx, avatarURL)
		if err != nil {
			return e.fail(ctx, notify.ChannelAvatar, profile.Site, "avatar", errEvent, err)
		}

		thumb, err := Thumbnail(blob.Content, ThumbSize)
		if err != nil {
			return e.fail(ctx, notify.ChannelAvatar, profile.Site, "avatar", errEvent, err)
		}

		name := fileName(avatarURL)
		avatar, err = e.store.AddAvatar(ctx, profile.ID, avatarURL,
			models.File{Name: name, Mime: blob.Mime, Content: blob.Content},
			models.File{Name: "thumb-" + name, Mime: "image/jpeg", Content: thumb},
		)
		if err != nil {
			return e.fail(ctx, notify.ChannelAvatar, profile.Site, "avatar", errEvent, err)
		}
	}

	progress.FinishJob(ctx)
	e.publish(ctx, notify.ChannelAvatar, notify.AvatarEvent{
		ID:       profile.ID,
		URL:      fileURL(avatar.FileID),
		ThumbURL: fileURL(avatar.ThumbFileID),
	})

	e.logger.WithField("profile_id", profile.ID).Debug("Stored avatar")
	return nil
}

// Thumbnail decodes an image and re-encodes it as a JPEG that fits within
// size x size, preserving the aspect ratio
func Thumbnail(content []byte, size int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to decode avatar image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("avatar image is empty")
	}

	if width > size || height > size {
		if width >= height {
			height = max(1, height*size/width)
			width = size
		} else {
			width = max(1, width*size/height)
			height = size
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func fileName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || path.Base(parsed.Path) == "/" || path.Base(parsed.Path) == "." {
		return "avatar"
	}
	return path.Base(parsed.Path)
}

func fileURL(id uint) string {
	return fmt.Sprintf("/api/file/%d", id)
}

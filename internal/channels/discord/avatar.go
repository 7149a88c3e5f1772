package discord

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

const (
	avatarSize     = 128
	maxAvatarBytes = 8 << 20
)

// avatarAPI fetches guild members. *discordgo.Session satisfies it.
type avatarAPI interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// MemberAvatar seeds new webhooks with a guild member's avatar.
type MemberAvatar struct {
	api    avatarAPI
	userID string
	client *http.Client
}

// NewMemberAvatar creates an avatar source for userID. A nil client uses http.DefaultClient.
func NewMemberAvatar(api avatarAPI, userID string, client *http.Client) *MemberAvatar {
	if client == nil {
		client = http.DefaultClient
	}
	return &MemberAvatar{api: api, userID: userID, client: client}
}

// AvatarDataURI downloads the member's avatar and returns it as a 128x128 PNG data URI.
func (a *MemberAvatar) AvatarDataURI(ctx context.Context, guildID string) (string, error) {
	if a.userID == "" {
		return "", fmt.Errorf("avatar: no member configured")
	}
	member, err := a.api.GuildMember(guildID, a.userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("avatar: fetch member %s: %w", a.userID, err)
	}
	if member == nil || member.User == nil {
		return "", fmt.Errorf("avatar: member %s has no user", a.userID)
	}

	url := member.AvatarURL(fmt.Sprint(avatarSize))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("avatar: build request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("avatar: download %q: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("avatar: download %q returned %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarBytes))
	if err != nil {
		return "", fmt.Errorf("avatar: read body: %w", err)
	}
	return encodeAvatar(data)
}

// encodeAvatar validates an image, fits it to the avatar size and encodes it
// as a PNG data URI.
func encodeAvatar(data []byte) (string, error) {
	mt := mimetype.Detect(data)
	if !mt.Is("image/png") && !mt.Is("image/jpeg") && !mt.Is("image/gif") {
		return "", fmt.Errorf("avatar: unsupported image type %s", mt.String())
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("avatar: decode %s: %w", mt.String(), err)
	}
	thumb := imaging.Fill(img, avatarSize, avatarSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		return "", fmt.Errorf("avatar: encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

package nostr

import (
	"context"
	"fmt"

	"skillsd/internal/skill"
)

// RegisterSkills exposes the chat surface to the agent. latestImage supplies
// the most recent camera frame as jpeg bytes; it may be nil when no camera is
// wired.
func (s *Service) RegisterSkills(reg *skill.Registry, latestImage func() ([]byte, bool)) error {
	skills := []skill.Skill{
		{
			Name:        "send_dm",
			Description: "Send an encrypted chat message to the operator. Args: message.",
			Run: func(ctx context.Context, args map[string]string) (string, error) {
				msg := args["message"]
				if err := s.SendDM(ctx, msg); err != nil {
					return "", err
				}
				return "Sent via Nostr: " + msg, nil
			},
		},
		{
			Name:        "send_camera_image",
			Description: "Upload the current camera image and send its URL to the operator. Args: message (optional caption).",
			Run: func(ctx context.Context, args map[string]string) (string, error) {
				if latestImage == nil {
					return "", fmt.Errorf("no camera source is configured")
				}
				jpeg, ok := latestImage()
				if !ok {
					return "", fmt.Errorf("no camera image available")
				}

				imageURL, err := s.UploadImage(ctx, jpeg)
				if err != nil {
					return "", err
				}

				msg := imageURL
				if caption := args["message"]; caption != "" {
					msg = caption + "\n\n" + imageURL
				}
				if err := s.SendDM(ctx, msg); err != nil {
					return "", err
				}
				return "Sent camera image via Nostr: " + imageURL, nil
			},
		},
	}
	for _, sk := range skills {
		if err := reg.Register(sk); err != nil {
			return err
		}
	}
	return nil
}

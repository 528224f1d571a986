package homeassistant

import (
	"context"
	"fmt"

	"skillsd/internal/skill"
)

// RegisterSkills exposes the light controls to the agent.
func (c *Client) RegisterSkills(reg *skill.Registry) error {
	skills := []skill.Skill{
		{
			Name:        "turn_on_light",
			Description: "Turn on a Home Assistant light. Args: entity_id (e.g. light.living_room).",
			Run: func(ctx context.Context, args map[string]string) (string, error) {
				id := args["entity_id"]
				if err := c.TurnOnLight(ctx, id); err != nil {
					return "", fmt.Errorf("turn on %s: %w", id, err)
				}
				return fmt.Sprintf("Successfully turned on %s", id), nil
			},
		},
		{
			Name:        "turn_off_light",
			Description: "Turn off a Home Assistant light. Args: entity_id (e.g. light.living_room).",
			Run: func(ctx context.Context, args map[string]string) (string, error) {
				id := args["entity_id"]
				if err := c.TurnOffLight(ctx, id); err != nil {
					return "", fmt.Errorf("turn off %s: %w", id, err)
				}
				return fmt.Sprintf("Successfully turned off %s", id), nil
			},
		},
		{
			Name:        "list_lights",
			Description: "List all Home Assistant lights with their current states.",
			Run: func(ctx context.Context, _ map[string]string) (string, error) {
				return c.ListLights(ctx)
			},
		},
		{
			Name:        "get_light_state",
			Description: "Get the state of one Home Assistant light. Args: entity_id.",
			Run: func(ctx context.Context, args map[string]string) (string, error) {
				return c.LightState(ctx, args["entity_id"])
			},
		},
	}
	for _, s := range skills {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}

package config

import (
	"strconv"
	"strings"
)

// settingKeys maps settings-table names onto config fields. Values stored in
// the database take precedence over file and environment values.
var settingKeys = map[string]func(c *Config, v string){
	"blockfrost_project_id":    func(c *Config, v string) { c.Blockfrost.APIKey = v },
	"blockfrost_base_url":      func(c *Config, v string) { c.Blockfrost.BaseURL = v },
	"koios_api_key":            func(c *Config, v string) { c.Koios.APIKey = v },
	"koios_base_url":           func(c *Config, v string) { c.Koios.BaseURL = v },
	"metadata_service_url":     func(c *Config, v string) { c.MetadataService.BaseURL = v },
	"metadata_service_key":     func(c *Config, v string) { c.MetadataService.APIKey = v },
	"discord_token":            func(c *Config, v string) { c.Discord.Token = v },
	"discord_channel_id":       func(c *Config, v string) { c.Discord.ChannelID = v },
	"jwt_secret":               func(c *Config, v string) { c.API.JWTSecret = v },
	"redis_url":                func(c *Config, v string) { c.RedisURL = v },
	"sync_schedule":            func(c *Config, v string) { c.Sync.Schedule = v },
	"ipfs_gateways":            func(c *Config, v string) { c.Anchors.Gateways = splitList(v) },
	"history_start_epoch":      func(c *Config, v string) { setInt(&c.History.StartEpoch, v) },
	"gate_min_coverage":        func(c *Config, v string) { setFloat(&c.Gate.MinCoverage, v) },
	"builder_proposal_workers": func(c *Config, v string) { setInt(&c.Builder.ProposalWorkers, v) },
	"builder_actor_workers":    func(c *Config, v string) { setInt(&c.Builder.ActorWorkers, v) },
}

// ApplySettings overlays database settings onto c and revalidates. It
// returns the names that were applied.
func (c *Config) ApplySettings(settings map[string]string) ([]string, error) {
	var applied []string
	for name, value := range settings {
		set, ok := settingKeys[name]
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		set(c, strings.TrimSpace(value))
		applied = append(applied, name)
	}
	return applied, c.Validate()
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setFloat(dst *float64, v string) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}
